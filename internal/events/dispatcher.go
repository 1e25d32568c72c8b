/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
)

const DefaultRetries = 3

// Dispatcher delivers every published event to all registered listeners.
// A listener that fails is retried up to Retries more times with a
// growing pause between attempts.
type Dispatcher struct {
	Retries   int
	Backoff   time.Duration
	log       logging.Logger
	mu        sync.RWMutex
	listeners []Listener
}

func NewDispatcher(log logging.Logger, retries int) *Dispatcher {
	if retries < 0 {
		retries = DefaultRetries
	}
	return &Dispatcher{
		Retries: retries,
		Backoff: 50 * time.Millisecond,
		log:     log,
	}
}

func (d *Dispatcher) Register(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Publish hands ev to every listener concurrently and waits for them. The
// first listener that still fails after its retries is returned.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.RUnlock()

	var g errgroup.Group
	for i, l := range listeners {
		g.Go(func() error {
			if err := d.deliver(ctx, l, ev); err != nil {
				d.log.Errorf("Listener %d dropped event %s: %v", i, ev, err)
				return fmt.Errorf("listener %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, l Listener, ev Event) error {
	var err error
	for attempt := 0; attempt <= d.Retries; attempt++ {
		if attempt > 0 {
			d.log.Debugf("Redelivering event %s (attempt %d): %v", ev, attempt+1, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * d.Backoff):
			}
		}
		if err = l.HandleEvent(ctx, ev); err == nil {
			return nil
		}
	}
	return err
}
