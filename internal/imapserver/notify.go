/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapserver

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/server"

	"github.com/JB-SelfCompany/yggmailstore/internal/events"
	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
)

// IMAPNotify listens to the store's event feed and tells connections that
// have the affected mailbox selected about new messages.
type IMAPNotify struct {
	server *server.Server
	store  *store.Store
	log    logging.Logger
}

func NewIMAPNotify(s *server.Server, st *store.Store, log logging.Logger) *IMAPNotify {
	return &IMAPNotify{
		server: s,
		store:  st,
		log:    log,
	}
}

func (ext *IMAPNotify) HandleEvent(ctx context.Context, ev events.Event) error {
	if ev.Kind != events.Added {
		return nil
	}
	count, err := ext.store.CountMessages(ctx, &ev.Mailbox)
	if err != nil {
		return fmt.Errorf("ext.store.CountMessages: %w", err)
	}
	recent, err := ext.store.FindRecentMessageUIDs(ctx, &ev.Mailbox)
	if err != nil {
		return fmt.Errorf("ext.store.FindRecentMessageUIDs: %w", err)
	}

	ext.server.ForEachConn(func(c server.Conn) {
		mbox, ok := c.Context().Mailbox.(*Mailbox)
		if !ok || mbox.mailbox.ID != ev.Mailbox.ID {
			return
		}
		ext.log.Debugf("Sending untagged EXISTS %d to client in %s", count, ev.Mailbox.Path)
		_ = c.WriteResp(&imap.StatusResp{
			Type: imap.StatusRespType(fmt.Sprintf("%d EXISTS", count)),
		})
		_ = c.WriteResp(&imap.StatusResp{
			Type: imap.StatusRespType(fmt.Sprintf("%d RECENT", len(recent))),
		})
	})
	return nil
}
