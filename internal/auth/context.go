// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity is returned when a context carries no authenticated seller.
var ErrNoIdentity = errors.New("no authenticated seller in context")

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller of a request: the seller account and the
// device acting for it.
type Identity struct {
	SellerID string
	DeviceID string
}

// WithIdentity stores id in the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by WithIdentity. It fails with
// ErrNoIdentity when none is stored or the seller is empty.
func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.SellerID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// SellerID returns the authenticated seller id
func SellerID(ctx context.Context) (string, error) {
	id, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return id.SellerID, nil
}
