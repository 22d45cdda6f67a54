// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"time"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// REST/JSON models shared by the client and the reference server

// Push actions reported per acknowledged item
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	// ActionDuplicate acknowledges an order whose content the remote already stored under another id.
	ActionDuplicate = "duplicate"
)

// PaymentCompleted is the payment status of a paid plan order.
const PaymentCompleted = "completed"

// PushRequest is the body of POST /sync/{endpoint}.
type PushRequest struct {
	SellerID string           `json:"sellerId"`
	Items    []*record.Record `json:"items"`
}

// PushResponse reports the per-item outcome of a push.
type PushResponse struct {
	Success bool        `json:"success"`
	Results PushResults `json:"results"`
}

// PushResults splits acknowledged and rejected items.
type PushResults struct {
	Success []PushAck     `json:"success"`
	Failed  []PushFailure `json:"failed"`
}

// PushAck names the local id the remote accepted and the id it assigned.
type PushAck struct {
	ID       string `json:"id"`
	RemoteID string `json:"_id"`
	Action   string `json:"action"`
}

// PushFailure names a rejected local id.
type PushFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Ack returns the acknowledgment for id.
func (r *PushResponse) Ack(id string) (PushAck, bool) {
	for _, a := range r.Results.Success {
		if a.ID == id {
			return a, true
		}
	}
	return PushAck{}, false
}

// Failure returns the rejection for id.
func (r *PushResponse) Failure(id string) (PushFailure, bool) {
	for _, f := range r.Results.Failed {
		if f.ID == id {
			return f, true
		}
	}
	return PushFailure{}, false
}

// PlanOrder is one purchased plan term.
type PlanOrder struct {
	PlanID        string     `json:"planId"`
	PlanOrderID   string     `json:"planOrderId"`
	PaymentStatus string     `json:"paymentStatus"`
	StartsAt      time.Time  `json:"startsAt"`
	ExpiresAt     *time.Time `json:"expiresAt"` // nil for terms that never expire
	IsCurrent     bool       `json:"isCurrent"`
}

// ActiveAt reports whether the term window contains now.
func (p PlanOrder) ActiveAt(now time.Time) bool {
	if now.Before(p.StartsAt) {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// CurrentPlan is the body of GET /data/current-plan.
type CurrentPlan struct {
	PlanID      string     `json:"planId"`
	PlanOrderID string     `json:"planOrderId,omitempty"`
	Name        string     `json:"name,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	IsExpired   bool       `json:"isExpired"`
}

// UsageCounter is the usage of one quota kind.
type UsageCounter struct {
	Used        int64 `json:"used"`
	Limit       int64 `json:"limit"`
	Remaining   int64 `json:"remaining"`
	IsUnlimited bool  `json:"isUnlimited"`
}

// UsageResponse is the body of GET /plans/usage.
type UsageResponse struct {
	Summary map[string]UsageCounter `json:"summary"`
	Plans   []PlanOrder             `json:"plans"`
}

// UpgradeRequest is the body of POST /data/plans/upgrade.
type UpgradeRequest struct {
	PlanID      string `json:"planId" validate:"required"`
	PlanOrderID string `json:"planOrderId,omitempty"`
}

// UpgradeResponse reports the outcome of a plan switch.
type UpgradeResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Plan    *CurrentPlan `json:"plan,omitempty"`
}

// PurchaseRequest is the body of POST /plans/purchase. The new term starts when the
// seller's latest paid term ends.
type PurchaseRequest struct {
	PlanID string `json:"planId" validate:"required"`
	Days   int    `json:"days" validate:"gte=1,lte=3660"`
}

// SnapshotResponse is the body of GET /data/all.
type SnapshotResponse struct {
	Data map[record.EntityType][]*record.Record `json:"data"`
}

// MeResponse is the body of GET /auth/me.
type MeResponse struct {
	SellerID string `json:"sellerId"`
	DeviceID string `json:"deviceId"`
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	SellerID string `json:"sellerId" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var endpoints = map[record.EntityType]string{
	record.Categories:     "categories",
	record.Products:       "products",
	record.Customers:      "customers",
	record.Orders:         "orders",
	record.Transactions:   "transactions",
	record.PurchaseOrders: "vendor-orders",
}

// EndpointFor maps a local collection to its sync endpoint.
func EndpointFor(et record.EntityType) (string, bool) {
	ep, ok := endpoints[et]
	return ep, ok
}

// EntityForEndpoint is the inverse of EndpointFor.
func EntityForEndpoint(endpoint string) (record.EntityType, bool) {
	for et, ep := range endpoints {
		if ep == endpoint {
			return et, true
		}
	}
	return "", false
}
