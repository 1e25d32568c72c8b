/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapserver

import (
	"math"

	"github.com/emersion/go-imap"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/msgrange"
)

// bounds resolves "*" in seq to max and orders the ends. It reports false
// when the set refers to "*" in an empty space.
func bounds(seq imap.Seq, max uint32) (uint32, uint32, bool) {
	lo, hi := seq.Start, seq.Stop
	if lo == 0 {
		lo = max
	}
	if hi == 0 {
		hi = max
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi, lo > 0
}

// inclusive converts the inclusive uid interval [lo, hi] into a store
// range, whose FROM and RANGE bounds are exclusive.
func inclusive(lo, hi uint32) msgrange.Range {
	switch {
	case lo == hi:
		return msgrange.One(lo)
	case hi == math.MaxUint32:
		return msgrange.From(lo - 1)
	default:
		return msgrange.Between(lo-1, hi+1)
	}
}

// uidRanges maps a UID set onto store ranges. lastUID stands in for "*".
func uidRanges(set *imap.SeqSet, lastUID uint32) []msgrange.Range {
	var ranges []msgrange.Range
	for _, seq := range set.Set {
		lo, hi, ok := bounds(seq, lastUID)
		if !ok {
			continue
		}
		ranges = append(ranges, inclusive(lo, hi))
	}
	return ranges
}

// seqRanges maps a message sequence number set onto store ranges using
// uids, the ascending uid listing that defines the numbering.
func seqRanges(set *imap.SeqSet, uids []uint32) []msgrange.Range {
	count := uint32(len(uids))
	var ranges []msgrange.Range
	for _, seq := range set.Set {
		lo, hi, ok := bounds(seq, count)
		if !ok || lo > count {
			continue
		}
		if hi > count {
			hi = count
		}
		ranges = append(ranges, inclusive(uids[lo-1], uids[hi-1]))
	}
	return ranges
}
