/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapserver

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/backendutil"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

// parseMessage splits a raw RFC 5322 message into the stored header and
// body and records the sizes the store keeps alongside them.
func parseMessage(raw []byte, date time.Time, flags types.Flags) (*types.Message, error) {
	r := bytes.NewReader(raw)
	br := bufio.NewReader(r)
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("textproto.ReadHeader: %w", err)
	}
	bodyStart := len(raw) - r.Len() - br.Buffered()

	mediaType, subType := "text", "plain"
	mh := message.Header{Header: hdr}
	if t, _, err := mh.ContentType(); err == nil && t != "" {
		if main, sub, ok := strings.Cut(t, "/"); ok {
			mediaType, subType = main, sub
		}
	}

	if date.IsZero() {
		date = time.Now()
	}
	msg := &types.Message{
		InternalDate:      date,
		MediaType:         mediaType,
		SubType:           subType,
		FullContentOctets: int64(len(raw)),
		BodyOctets:        int64(len(raw) - bodyStart),
		BodyStartOctet:    int64(bodyStart),
		Flags:             flags,
		Header:            raw[:bodyStart],
		Body:              raw[bodyStart:],
	}
	if mediaType == "text" {
		lines := int64(bytes.Count(msg.Body, []byte("\n")))
		if len(msg.Body) > 0 && !bytes.HasSuffix(msg.Body, []byte("\n")) {
			lines++
		}
		msg.TextualLineCount = &lines
	}
	return msg, nil
}

// fetchTypeFor picks the smallest store projection that can answer items.
func fetchTypeFor(items []imap.FetchItem) types.FetchType {
	fetch := types.FetchMetadata
	for _, item := range items {
		switch item {
		case imap.FetchFlags, imap.FetchInternalDate, imap.FetchRFC822Size, imap.FetchUid:
		case imap.FetchEnvelope:
			if fetch == types.FetchMetadata {
				fetch = types.FetchHeaders
			}
		default:
			return types.FetchFull
		}
	}
	return fetch
}

// needsSeen reports whether fetching items implicitly sets \Seen.
func needsSeen(items []imap.FetchItem) bool {
	for _, item := range items {
		section, err := imap.ParseBodySectionName(item)
		if err == nil && !section.Peek {
			return true
		}
	}
	return false
}

func fetchMessage(m *types.Message, seqNum uint32, items []imap.FetchItem) *imap.Message {
	fetched := imap.NewMessage(seqNum, items)
	fetched.Uid = m.UID

	get := func() (io.Reader, textproto.Header, error) {
		hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(m.Header)))
		if err != nil {
			return nil, textproto.Header{}, fmt.Errorf("textproto.ReadHeader: %w", err)
		}
		return bytes.NewReader(m.Body), hdr, nil
	}

	for _, item := range items {
		switch item {
		case imap.FetchEnvelope:
			_, hdr, err := get()
			if err != nil {
				continue
			}
			if fetched.Envelope, err = backendutil.FetchEnvelope(hdr); err != nil {
				continue
			}

		case imap.FetchBody, imap.FetchBodyStructure:
			bodyreader, hdr, err := get()
			if err != nil {
				continue
			}
			if fetched.BodyStructure, err = backendutil.FetchBodyStructure(hdr, bodyreader, item == imap.FetchBodyStructure); err != nil {
				continue
			}

		case imap.FetchFlags:
			fetched.Flags = m.Flags.Names()

		case imap.FetchInternalDate:
			fetched.InternalDate = m.InternalDate

		case imap.FetchRFC822Size:
			fetched.Size = uint32(m.FullContentOctets)

		case imap.FetchUid:
			fetched.Uid = m.UID

		default:
			section, err := imap.ParseBodySectionName(item)
			if err != nil {
				continue
			}
			bodyreader, hdr, err := get()
			if err != nil {
				continue
			}
			l, err := backendutil.FetchBodySection(hdr, bodyreader, section)
			if err != nil {
				continue
			}
			fetched.Body[section] = l
		}
	}
	return fetched
}

// matches evaluates IMAP search criteria against a fully loaded message.
func matches(m *types.Message, seqNum uint32, criteria *imap.SearchCriteria) (bool, error) {
	entity, err := message.Read(bytes.NewReader(m.Content()))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return false, fmt.Errorf("message.Read: %w", err)
	}
	return backendutil.Match(entity, seqNum, m.UID, m.InternalDate, m.Flags.Names(), criteria)
}
