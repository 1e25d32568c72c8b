/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package events carries message store changes to the collaborators that
// maintain derived state, such as a search index or connected sessions.
//
// Delivery is at-least-once: a listener may see the same event more than
// once and must treat re-delivery as a no-op.
package events

import (
	"context"
	"fmt"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

type Kind int

const (
	Added Kind = iota
	Deleted
	FlagsUpdated
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case FlagsUpdated:
		return "flags-updated"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Event struct {
	Kind    Kind
	Mailbox types.Mailbox
	UID     uint32
	ModSeq  uint64
	Message *types.Message      // Added only
	Flags   *types.UpdatedFlags // FlagsUpdated only
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s uid=%d modseq=%d", e.Kind, e.Mailbox.ID, e.UID, e.ModSeq)
}

type Listener interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
