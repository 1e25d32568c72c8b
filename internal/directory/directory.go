/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package directory resolves mailboxes by path and owns their identity.
package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

// Wildcard matches any substring of a mailbox name in FindByPathPattern.
const Wildcard = "%"

// Table is the mailbox row storage. Insert and Update return
// types.ErrMailboxExists on an id or path conflict; lookups and Delete
// return types.ErrMailboxNotFound.
type Table interface {
	Insert(ctx context.Context, mb *types.Mailbox) error
	Update(ctx context.Context, mb *types.Mailbox) error
	SelectByID(ctx context.Context, id string) (*types.Mailbox, error)
	SelectByPath(ctx context.Context, path types.MailboxPath) (*types.Mailbox, error)
	SelectAll(ctx context.Context) ([]*types.Mailbox, error)
	Delete(ctx context.Context, id string) error
}

type Directory struct {
	table       Table
	log         logging.Logger
	lastValidity atomic.Uint32
}

func New(table Table, log logging.Logger) *Directory {
	return &Directory{table: table, log: log}
}

// Create registers a new mailbox at path. A zero uidValidity is replaced
// by one derived from the clock that is greater than any handed out
// before by this directory.
func (d *Directory) Create(ctx context.Context, path types.MailboxPath, uidValidity uint32) (*types.Mailbox, error) {
	if uidValidity == 0 {
		uidValidity = d.nextUIDValidity()
	}
	mb := &types.Mailbox{
		ID:          uuid.NewString(),
		Path:        path,
		UIDValidity: uidValidity,
	}
	if err := d.table.Insert(ctx, mb); err != nil {
		return nil, fmt.Errorf("directory.Create(%s): %w", path, types.Unavailable("table.Insert", err))
	}
	d.log.Infof("Created mailbox %s id=%s uidvalidity=%d", path, mb.ID, mb.UIDValidity)
	return mb, nil
}

func (d *Directory) nextUIDValidity() uint32 {
	now := uint32(time.Now().Unix())
	for {
		last := d.lastValidity.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if d.lastValidity.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (d *Directory) FindByPath(ctx context.Context, path types.MailboxPath) (*types.Mailbox, error) {
	mb, err := d.table.SelectByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("directory.FindByPath(%s): %w", path, types.Unavailable("table.SelectByPath", err))
	}
	return mb, nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (*types.Mailbox, error) {
	mb, err := d.table.SelectByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("directory.FindByID(%s): %w", id, types.Unavailable("table.SelectByID", err))
	}
	return mb, nil
}

// FindByPathPattern returns the mailboxes of the pattern's namespace and
// user whose name matches pattern.Name, where each % matches any
// substring.
func (d *Directory) FindByPathPattern(ctx context.Context, pattern types.MailboxPath) ([]*types.Mailbox, error) {
	re, err := compilePattern(pattern.Name)
	if err != nil {
		return nil, fmt.Errorf("directory.FindByPathPattern(%s): %w", pattern, err)
	}
	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	var found []*types.Mailbox
	for _, mb := range all {
		if mb.Path.Namespace != pattern.Namespace || mb.Path.User != pattern.User {
			continue
		}
		if re.MatchString(mb.Path.Name) {
			found = append(found, mb)
		}
	}
	return found, nil
}

func compilePattern(name string) (*regexp.Regexp, error) {
	parts := strings.Split(name, Wildcard)
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// List returns every mailbox ordered by path.
func (d *Directory) List(ctx context.Context) ([]*types.Mailbox, error) {
	all, err := d.table.SelectAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory.List: %w", types.Unavailable("table.SelectAll", err))
	}
	return all, nil
}

// HasChildren reports whether any mailbox lives below mb, that is whether
// a path starts with mb's name followed by delimiter.
func (d *Directory) HasChildren(ctx context.Context, mb *types.Mailbox, delimiter string) (bool, error) {
	children, err := d.children(ctx, mb, delimiter)
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

func (d *Directory) children(ctx context.Context, mb *types.Mailbox, delimiter string) ([]*types.Mailbox, error) {
	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	var children []*types.Mailbox
	for _, other := range all {
		if other.ID != mb.ID && other.Path.HasPrefix(mb.Path, mb.Path.Name+delimiter) {
			children = append(children, other)
		}
	}
	return children, nil
}

// Rename moves mb and every mailbox below it to newName. Identities and
// uid validity values are kept. Each mailbox is updated on its own, so a
// failure part way leaves the ones already renamed in place.
func (d *Directory) Rename(ctx context.Context, mb *types.Mailbox, newName, delimiter string) error {
	if _, err := d.table.SelectByPath(ctx, types.MailboxPath{
		Namespace: mb.Path.Namespace, User: mb.Path.User, Name: newName,
	}); err == nil {
		return fmt.Errorf("directory.Rename(%s): %w", newName, types.ErrMailboxExists)
	} else if !errors.Is(err, types.ErrMailboxNotFound) {
		return fmt.Errorf("directory.Rename(%s): %w", newName, types.Unavailable("table.SelectByPath", err))
	}

	children, err := d.children(ctx, mb, delimiter)
	if err != nil {
		return err
	}
	oldName := mb.Path.Name
	renamed := *mb
	renamed.Path.Name = newName
	if err := d.table.Update(ctx, &renamed); err != nil {
		return fmt.Errorf("directory.Rename(%s): %w", mb.Path, types.Unavailable("table.Update", err))
	}
	for _, child := range children {
		child.Path.Name = newName + strings.TrimPrefix(child.Path.Name, oldName)
		if err := d.table.Update(ctx, child); err != nil {
			return fmt.Errorf("directory.Rename child %s: %w", child.ID, types.Unavailable("table.Update", err))
		}
	}
	d.log.Infof("Renamed mailbox %s to %s (%d children)", mb.Path, newName, len(children))
	*mb = renamed
	return nil
}

func (d *Directory) Delete(ctx context.Context, mb *types.Mailbox) error {
	if err := d.table.Delete(ctx, mb.ID); err != nil {
		return fmt.Errorf("directory.Delete(%s): %w", mb.Path, types.Unavailable("table.Delete", err))
	}
	d.log.Infof("Deleted mailbox %s id=%s", mb.Path, mb.ID)
	return nil
}
