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
	"errors"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"golang.org/x/crypto/bcrypt"

	"github.com/JB-SelfCompany/yggmailstore/internal/directory"
	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
	"github.com/JB-SelfCompany/yggmailstore/internal/utils"
)

// Backend serves a single account from the message store.
type Backend struct {
	Log          logging.Logger
	Store        *store.Store
	Directory    *directory.Directory
	Delimiter    string
	Username     string
	PasswordHash []byte
}

func (b *Backend) Login(_ *imap.ConnInfo, username, password string) (backend.User, error) {
	name, err := utils.ParseUsername(username)
	if err != nil || name != b.Username {
		return nil, backend.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(b.PasswordHash, []byte(password)) != nil {
		return nil, backend.ErrInvalidCredentials
	}
	user := &User{backend: b, username: name}
	if err := user.ensureInbox(context.Background()); err != nil {
		return nil, err
	}
	return user, nil
}

// Account returns the configured user without authenticating, creating
// its INBOX if needed.
func (b *Backend) Account() (*User, error) {
	user := &User{backend: b, username: b.Username}
	if err := user.ensureInbox(context.Background()); err != nil {
		return nil, err
	}
	return user, nil
}

type User struct {
	backend  *Backend
	username string
}

func (u *User) path(name string) types.MailboxPath {
	return types.MailboxPath{
		Namespace: utils.PrivateNamespace,
		User:      u.username,
		Name:      utils.NormalizeMailboxName(name, u.backend.Delimiter),
	}
}

// Path returns the directory path of the named mailbox.
func (u *User) Path(name string) types.MailboxPath {
	return u.path(name)
}

func (u *User) ensureInbox(ctx context.Context) error {
	_, err := u.backend.Directory.FindByPath(ctx, u.path(utils.Inbox))
	if errors.Is(err, types.ErrMailboxNotFound) {
		_, err = u.backend.Directory.Create(ctx, u.path(utils.Inbox), 0)
		if errors.Is(err, types.ErrMailboxExists) {
			err = nil
		}
	}
	return err
}

func (u *User) Username() string {
	return u.username
}

func (u *User) ListMailboxes(subscribed bool) ([]backend.Mailbox, error) {
	found, err := u.backend.Directory.FindByPathPattern(context.Background(), u.path(directory.Wildcard))
	if err != nil {
		return nil, fmt.Errorf("u.backend.Directory.FindByPathPattern: %w", err)
	}
	boxes := make([]backend.Mailbox, 0, len(found))
	for _, mb := range found {
		boxes = append(boxes, &Mailbox{backend: u.backend, user: u, mailbox: mb})
	}
	return boxes, nil
}

func (u *User) GetMailbox(name string) (backend.Mailbox, error) {
	mb, err := u.backend.Directory.FindByPath(context.Background(), u.path(name))
	if errors.Is(err, types.ErrMailboxNotFound) {
		return nil, backend.ErrNoSuchMailbox
	}
	if err != nil {
		return nil, fmt.Errorf("u.backend.Directory.FindByPath: %w", err)
	}
	return &Mailbox{backend: u.backend, user: u, mailbox: mb}, nil
}

func (u *User) CreateMailbox(name string) error {
	path := u.path(name)
	if err := utils.ValidateMailboxName(path.Name, u.backend.Delimiter); err != nil {
		return err
	}
	_, err := u.backend.Directory.Create(context.Background(), path, 0)
	if errors.Is(err, types.ErrMailboxExists) {
		return backend.ErrMailboxAlreadyExists
	}
	return err
}

func (u *User) DeleteMailbox(name string) error {
	ctx := context.Background()
	path := u.path(name)
	if path.Name == utils.Inbox {
		return fmt.Errorf("cannot delete %s", utils.Inbox)
	}
	mb, err := u.backend.Directory.FindByPath(ctx, path)
	if errors.Is(err, types.ErrMailboxNotFound) {
		return backend.ErrNoSuchMailbox
	}
	if err != nil {
		return err
	}
	if _, err := u.backend.Store.Purge(ctx, mb); err != nil {
		return fmt.Errorf("u.backend.Store.Purge: %w", err)
	}
	return u.backend.Directory.Delete(ctx, mb)
}

func (u *User) RenameMailbox(existingName, newName string) error {
	ctx := context.Background()
	from, to := u.path(existingName), u.path(newName)
	if from.Name == utils.Inbox {
		return fmt.Errorf("cannot rename %s", utils.Inbox)
	}
	if err := utils.ValidateMailboxName(to.Name, u.backend.Delimiter); err != nil {
		return err
	}
	mb, err := u.backend.Directory.FindByPath(ctx, from)
	if errors.Is(err, types.ErrMailboxNotFound) {
		return backend.ErrNoSuchMailbox
	}
	if err != nil {
		return err
	}
	err = u.backend.Directory.Rename(ctx, mb, to.Name, u.backend.Delimiter)
	if errors.Is(err, types.ErrMailboxExists) {
		return backend.ErrMailboxAlreadyExists
	}
	return err
}

func (u *User) Logout() error {
	return nil
}
