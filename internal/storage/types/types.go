/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package types

import (
	"fmt"
	"strings"
	"time"
)

// MailboxPath identifies a mailbox within a namespace and owner.
type MailboxPath struct {
	Namespace string
	User      string
	Name      string
}

func (p MailboxPath) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Namespace, p.User, p.Name)
}

// HasPrefix reports whether p lives in the same namespace and owner as
// other and its name starts with prefix.
func (p MailboxPath) HasPrefix(other MailboxPath, prefix string) bool {
	return p.Namespace == other.Namespace &&
		p.User == other.User &&
		strings.HasPrefix(p.Name, prefix)
}

type Mailbox struct {
	ID          string
	Path        MailboxPath
	UIDValidity uint32
}

type Message struct {
	MailboxID         string
	UID               uint32
	ModSeq            uint64
	InternalDate      time.Time
	MediaType         string
	SubType           string
	FullContentOctets int64
	BodyOctets        int64
	BodyStartOctet    int64
	TextualLineCount  *int64 // nil when not a text part
	Flags             Flags
	Header            []byte
	Body              []byte
}

// Metadata projects the fields a caller needs to confirm a mutation.
func (m *Message) Metadata() MessageMetaData {
	return MessageMetaData{
		UID:          m.UID,
		ModSeq:       m.ModSeq,
		Size:         m.FullContentOctets,
		Flags:        m.Flags,
		InternalDate: m.InternalDate,
	}
}

// Content returns the full RFC 5322 representation of the message.
func (m *Message) Content() []byte {
	content := make([]byte, 0, len(m.Header)+len(m.Body))
	content = append(content, m.Header...)
	return append(content, m.Body...)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.Header = append([]byte(nil), m.Header...)
	c.Body = append([]byte(nil), m.Body...)
	if m.TextualLineCount != nil {
		lines := *m.TextualLineCount
		c.TextualLineCount = &lines
	}
	return &c
}

type MessageMetaData struct {
	UID          uint32
	ModSeq       uint64
	Size         int64
	Flags        Flags
	InternalDate time.Time
}

type UpdatedFlags struct {
	UID      uint32
	ModSeq   uint64
	OldFlags Flags
	NewFlags Flags
}

// Changed reports whether the update altered the effective flag set.
func (u UpdatedFlags) Changed() bool {
	return u.OldFlags != u.NewFlags
}

// FetchType selects which payload columns a scan populates.
type FetchType int

const (
	FetchMetadata FetchType = iota // identifiers, flags and sizes
	FetchHeaders
	FetchBody
	FetchFull
)

func (f FetchType) String() string {
	switch f {
	case FetchMetadata:
		return "metadata"
	case FetchHeaders:
		return "headers"
	case FetchBody:
		return "body"
	case FetchFull:
		return "full"
	default:
		return fmt.Sprintf("FetchType(%d)", int(f))
	}
}

func (f FetchType) WantsHeader() bool {
	return f == FetchHeaders || f == FetchFull
}

func (f FetchType) WantsBody() bool {
	return f == FetchBody || f == FetchFull
}

// Counter names one of the per-mailbox aggregate totals.
type Counter int

const (
	CounterTotal Counter = iota
	CounterUnseen
)

func (c Counter) String() string {
	switch c {
	case CounterTotal:
		return "total"
	case CounterUnseen:
		return "unseen"
	default:
		return fmt.Sprintf("Counter(%d)", int(c))
	}
}
