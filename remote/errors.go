// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
)

// ErrUnreachable wraps every transport-level failure: DNS, refused connection, timeout.
var ErrUnreachable = errors.New("remote unreachable")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Code       string // ErrorResponse.Error, when the body carried one
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote returned status %d", e.StatusCode)
}

// IsUnreachable reports whether err means the remote could not be contacted.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// StatusCode extracts the HTTP status of a StatusError, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
