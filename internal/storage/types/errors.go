/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package types

import (
	"errors"
	"fmt"
)

var (
	ErrMailboxNotFound      = errors.New("mailbox not found")
	ErrMailboxExists        = errors.New("mailbox already exists")
	ErrMessageNotFound      = errors.New("message not found")
	ErrOperationUnsupported = errors.New("operation not supported")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrUIDSpaceExhausted    = errors.New("uid space exhausted")
)

// StorageError wraps a driver failure. It matches ErrStorageUnavailable
// with errors.Is and unwraps to the driver's own error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrStorageUnavailable, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// Unavailable wraps err as a retryable storage failure for op. Errors that
// already carry one of the package's error kinds are returned unchanged.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKnown(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsKnown reports whether err is one of the error kinds defined here.
func IsKnown(err error) bool {
	for _, kind := range []error{
		ErrMailboxNotFound, ErrMailboxExists, ErrMessageNotFound,
		ErrOperationUnsupported, ErrStorageUnavailable, ErrUIDSpaceExhausted,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
