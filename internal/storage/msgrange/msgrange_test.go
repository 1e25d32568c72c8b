/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package msgrange

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPredicateMatch(t *testing.T) {
	tests := []struct {
		name  string
		r     Range
		match []uint32
		miss  []uint32
	}{
		{"all", All(), []uint32{1, 2, 1 << 31}, nil},
		{"from is exclusive", From(3), []uint32{4, 5, 100}, []uint32{1, 2, 3}},
		{"range is exclusive", Between(2, 5), []uint32{3, 4}, []uint32{1, 2, 5, 6}},
		{"one", One(7), []uint32{7}, []uint32{6, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.r.Predicate()
			for _, uid := range tt.match {
				if !p.Match(uid) {
					t.Errorf("%s: expected uid %d to match", tt.r, uid)
				}
			}
			for _, uid := range tt.miss {
				if p.Match(uid) {
					t.Errorf("%s: expected uid %d not to match", tt.r, uid)
				}
			}
		})
	}
}

func TestPredicateSQL(t *testing.T) {
	tests := []struct {
		r     Range
		where string
		args  []any
	}{
		{All(), "", nil},
		{From(3), "uid > $2", []any{int64(3)}},
		{Between(1, 9), "uid > $2 AND uid < $3", []any{int64(1), int64(9)}},
		{One(4), "uid = $2", []any{int64(4)}},
	}
	for _, tt := range tests {
		where, args := tt.r.Predicate().SQL("uid", 2)
		if where != tt.where {
			t.Errorf("%s: expected %q, got %q", tt.r, tt.where, where)
		}
		if diff := cmp.Diff(tt.args, args); diff != "" {
			t.Errorf("%s: args mismatch (-want +got):\n%s", tt.r, diff)
		}
	}
}

func TestPredicateEmpty(t *testing.T) {
	if !Between(4, 5).Predicate().Empty() {
		t.Errorf("Expected RANGE(4,5) to be empty")
	}
	if Between(4, 6).Predicate().Empty() {
		t.Errorf("Expected RANGE(4,6) to select uid 5")
	}
	if All().Predicate().Empty() {
		t.Errorf("Expected ALL not to be empty")
	}
}

func TestUnknownTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected unknown range type to panic")
		}
	}()
	New(Type(42), 1, 2).Predicate()
}
