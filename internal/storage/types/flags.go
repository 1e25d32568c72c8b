/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package types

import "strings"

// Flags is the fixed set of system flags plus a marker recording that the
// message carries at least one user-defined keyword.
type Flags uint8

const (
	FlagAnswered Flags = 1 << iota
	FlagDeleted
	FlagDraft
	FlagFlagged
	FlagRecent
	FlagSeen
	FlagUser
)

const allFlags = FlagAnswered | FlagDeleted | FlagDraft | FlagFlagged | FlagRecent | FlagSeen | FlagUser

var systemFlagNames = []struct {
	flag Flags
	name string
}{
	{FlagAnswered, `\Answered`},
	{FlagDeleted, `\Deleted`},
	{FlagDraft, `\Draft`},
	{FlagFlagged, `\Flagged`},
	{FlagRecent, `\Recent`},
	{FlagSeen, `\Seen`},
}

func (f Flags) Has(other Flags) bool {
	return f&other == other
}

func (f Flags) Union(other Flags) Flags {
	return (f | other) & allFlags
}

func (f Flags) Without(other Flags) Flags {
	return f &^ other
}

// Apply computes the flag set produced by a STORE-style mutation. With
// replace set the result is exactly flags, otherwise flags are added when
// value is true and removed when it is false.
func (f Flags) Apply(flags Flags, value, replace bool) Flags {
	switch {
	case replace:
		return flags & allFlags
	case value:
		return f.Union(flags)
	default:
		return f.Without(flags)
	}
}

// Names returns the IMAP names of the system flags that are set. The user
// flag marker has no IMAP name of its own and is not listed.
func (f Flags) Names() []string {
	names := []string{}
	for _, n := range systemFlagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

func (f Flags) String() string {
	names := f.Names()
	if f.Has(FlagUser) {
		names = append(names, "user")
	}
	return "(" + strings.Join(names, " ") + ")"
}

// ParseFlags maps IMAP flag names onto a Flags set. Anything that is not a
// system flag sets the user flag marker.
func ParseFlags(names []string) Flags {
	var f Flags
	for _, name := range names {
		f |= ParseFlag(name)
	}
	return f
}

func ParseFlag(name string) Flags {
	for _, n := range systemFlagNames {
		if strings.EqualFold(n.name, name) {
			return n.flag
		}
	}
	return FlagUser
}
