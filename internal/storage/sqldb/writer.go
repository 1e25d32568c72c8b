/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package sqldb

import (
	"go.uber.org/atomic"
)

// Writer funnels database writes through a single goroutine. SQLite
// allows only one writer at a time, so serialising them here avoids
// SQLITE_BUSY under concurrent sessions. A dummy writer runs writes
// inline for databases that handle concurrent writers themselves.
type Writer struct {
	todo    chan writerTask
	running atomic.Bool
}

type writerTask struct {
	f    func() error
	wait chan error
}

func NewExclusiveWriter() *Writer {
	return &Writer{todo: make(chan writerTask)}
}

func NewDummyWriter() *Writer {
	return &Writer{}
}

// Do runs f, on the writer goroutine if this is an exclusive writer, and
// returns its error.
func (w *Writer) Do(f func() error) error {
	if w.todo == nil {
		return f()
	}
	if w.running.CompareAndSwap(false, true) {
		go w.run()
	}
	task := writerTask{f: f, wait: make(chan error, 1)}
	w.todo <- task
	return <-task.wait
}

func (w *Writer) run() {
	for task := range w.todo {
		task.wait <- task.f()
	}
}
