/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package msgrange describes selections over the UID space of a mailbox.
//
// FROM and RANGE selections are exclusive at their bounds: From(u) selects
// uid > u and Between(lo, hi) selects lo < uid < hi.
package msgrange

import "fmt"

type Type int

const (
	TypeAll Type = iota
	TypeFrom
	TypeRange
	TypeOne
)

func (t Type) String() string {
	switch t {
	case TypeAll:
		return "ALL"
	case TypeFrom:
		return "FROM"
	case TypeRange:
		return "RANGE"
	case TypeOne:
		return "ONE"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

type Range struct {
	typ  Type
	from uint32
	to   uint32
}

func All() Range {
	return Range{typ: TypeAll}
}

func From(uid uint32) Range {
	return Range{typ: TypeFrom, from: uid}
}

func Between(lo, hi uint32) Range {
	return Range{typ: TypeRange, from: lo, to: hi}
}

func One(uid uint32) Range {
	return Range{typ: TypeOne, from: uid, to: uid}
}

// New builds a range of an explicit type. Bounds a type does not use are
// ignored.
func New(typ Type, from, to uint32) Range {
	return Range{typ: typ, from: from, to: to}
}

func (r Range) Type() Type {
	return r.typ
}

func (r Range) From() uint32 {
	return r.from
}

func (r Range) To() uint32 {
	return r.to
}

func (r Range) String() string {
	switch r.typ {
	case TypeAll:
		return "ALL"
	case TypeFrom:
		return fmt.Sprintf("FROM(%d)", r.from)
	case TypeRange:
		return fmt.Sprintf("RANGE(%d,%d)", r.from, r.to)
	case TypeOne:
		return fmt.Sprintf("ONE(%d)", r.from)
	default:
		return fmt.Sprintf("%s(%d,%d)", r.typ, r.from, r.to)
	}
}

// Predicate translates the range into a predicate over uid. It panics if
// the range type is not one of the defined types.
func (r Range) Predicate() Predicate {
	switch r.typ {
	case TypeAll, TypeFrom, TypeRange, TypeOne:
		return Predicate{typ: r.typ, lo: r.from, hi: r.to}
	default:
		panic(fmt.Sprintf("msgrange: unknown range type %d", int(r.typ)))
	}
}

// Contains reports whether uid is selected by the range.
func (r Range) Contains(uid uint32) bool {
	return r.Predicate().Match(uid)
}

type Predicate struct {
	typ Type
	lo  uint32
	hi  uint32
}

func (p Predicate) Match(uid uint32) bool {
	switch p.typ {
	case TypeAll:
		return true
	case TypeFrom:
		return uid > p.lo
	case TypeRange:
		return uid > p.lo && uid < p.hi
	case TypeOne:
		return uid == p.lo
	default:
		return false
	}
}

// Empty reports whether the predicate can never match.
func (p Predicate) Empty() bool {
	switch p.typ {
	case TypeFrom:
		return p.lo == ^uint32(0)
	case TypeRange:
		return p.hi <= p.lo+1 || p.lo == ^uint32(0)
	case TypeOne:
		return p.lo == 0
	default:
		return false
	}
}

// SQL renders the predicate as a condition on column using positional
// placeholders starting at $arg. An ALL predicate renders as an empty
// condition with no arguments.
func (p Predicate) SQL(column string, arg int) (string, []any) {
	switch p.typ {
	case TypeFrom:
		return fmt.Sprintf("%s > $%d", column, arg), []any{int64(p.lo)}
	case TypeRange:
		return fmt.Sprintf("%s > $%d AND %s < $%d", column, arg, column, arg+1),
			[]any{int64(p.lo), int64(p.hi)}
	case TypeOne:
		return fmt.Sprintf("%s = $%d", column, arg), []any{int64(p.lo)}
	default:
		return "", nil
	}
}
