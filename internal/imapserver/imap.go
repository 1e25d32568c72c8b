/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapserver

import (
	"errors"
	"fmt"
	"net"
	"time"

	idle "github.com/emersion/go-imap-idle"
	move "github.com/emersion/go-imap-move"
	"github.com/emersion/go-imap/server"
	"github.com/emersion/go-sasl"

	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
)

type IMAPServer struct {
	server   *server.Server
	backend  *Backend
	notify   *IMAPNotify
	listener net.Listener
	done     chan struct{}
	log      logging.Logger
}

func NewIMAPServer(backend *Backend, addr string, insecure bool) (*IMAPServer, *IMAPNotify, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("net.Listen: %w", err)
	}
	s := &IMAPServer{
		server:   server.New(backend),
		backend:  backend,
		listener: listener,
		done:     make(chan struct{}),
		log:      backend.Log,
	}
	s.notify = NewIMAPNotify(s.server, backend.Store, backend.Log)
	s.server.Addr = listener.Addr().String()
	s.server.AllowInsecureAuth = insecure
	s.server.Enable(idle.NewExtension())
	s.server.Enable(move.NewExtension())
	s.server.EnableAuth(sasl.Login, func(conn server.Conn) sasl.Server {
		return sasl.NewLoginServer(func(username, password string) error {
			_, err := s.backend.Login(nil, username, password)
			return err
		})
	})
	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Errorf("IMAP server error: %s", err)
		}
	}()
	s.log.Infof("Listening for IMAP on %s", s.server.Addr)
	return s, s.notify, nil
}

// Addr returns the address the server is listening on.
func (s *IMAPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Close closes the IMAP server and waits for goroutine to exit
func (s *IMAPServer) Close() error {
	if err := s.server.Close(); err != nil {
		return err
	}
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		s.log.Warnf("IMAP server goroutine did not exit within timeout")
	}
	return nil
}
