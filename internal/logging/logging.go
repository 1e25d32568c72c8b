/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	gologme "github.com/gologme/log"
)

// Logger is the subset of the leveled logger the rest of the module uses.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var levels = []string{"error", "warn", "info", "debug"}

// New returns a logger writing to w with a coloured component prefix.
// Levels up to and including level are enabled; an unknown level
// behaves as "info".
func New(w io.Writer, component string, level string) *gologme.Logger {
	yellow := color.New(color.FgYellow).SprintfFunc()
	l := gologme.New(w, fmt.Sprintf("[ %s ] ", yellow(component)), gologme.LstdFlags|gologme.Lmsgprefix)
	level = strings.ToLower(strings.TrimSpace(level))
	known := false
	for _, lvl := range levels {
		if lvl == level {
			known = true
		}
	}
	if !known {
		level = "info"
	}
	for _, lvl := range levels {
		l.EnableLevel(lvl)
		if lvl == level {
			break
		}
	}
	return l
}

// Discard returns a logger that drops everything, for tests.
func Discard() *gologme.Logger {
	return gologme.New(io.Discard, "", 0)
}
