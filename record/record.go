// Package record defines the syncable record envelope shared by every business
// collection and the lifecycle manager that owns its local state transitions.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EntityType names a local collection.
type EntityType string

// Collections known to the sync engine
const (
	Categories     EntityType = "categories"
	Products       EntityType = "products"
	Customers      EntityType = "customers"
	Orders         EntityType = "orders"
	Transactions   EntityType = "transactions"
	PurchaseOrders EntityType = "purchaseOrders"
)

// SyncOrder is the order in which collections are reconciled. Later collections
// may reference ids minted by earlier ones.
var SyncOrder = []EntityType{
	Categories,
	Products,
	Customers,
	Orders,
	Transactions,
	PurchaseOrders,
}

// Valid reports whether et is one of the known collections.
func (et EntityType) Valid() bool {
	for _, known := range SyncOrder {
		if known == et {
			return true
		}
	}
	return false
}

// ParseEntityType converts a collection name into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	et := EntityType(s)
	if !et.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return et, nil
}

// Envelope field names as they appear on the wire and in the local store.
const (
	FieldID           = "id"
	FieldRemoteID     = "_id"
	FieldIsSynced     = "isSynced"
	FieldIsDeleted    = "isDeleted"
	FieldIsUpdate     = "isUpdate"
	FieldSyncError    = "syncError"
	FieldSyncAttempts = "syncAttempts"
	FieldCreatedAt    = "createdAt"
	FieldUpdatedAt    = "updatedAt"
	FieldSyncedAt     = "syncedAt"
	FieldDeletedAt    = "deletedAt"
)

var envelopeFields = map[string]struct{}{
	FieldID: {}, FieldRemoteID: {}, FieldIsSynced: {}, FieldIsDeleted: {}, FieldIsUpdate: {},
	FieldSyncError: {}, FieldSyncAttempts: {}, FieldCreatedAt: {}, FieldUpdatedAt: {},
	FieldSyncedAt: {}, FieldDeletedAt: {},
}

// Record is a locally persisted business entity plus its sync-state metadata.
// A record is pending iff IsSynced is false.
type Record struct {
	ID           string     // Local identifier, assigned at creation, never reused
	RemoteID     string     // Assigned by the remote on first successful push
	IsSynced     bool       // True only after a remote acknowledgment naming this record
	IsDeleted    bool       // Soft-delete marker
	IsUpdate     bool       // Set by human edits to distinguish them from reconciliation writebacks
	SyncError    string     // Last remote rejection message
	SyncAttempts int        // Failed push attempts, saturating at the orchestrator's cap
	CreatedAt    time.Time  // Local creation time
	UpdatedAt    time.Time  // Last local mutation
	SyncedAt     *time.Time // Last remote acknowledgment
	DeletedAt    *time.Time // Soft-delete time

	Fields map[string]any // Business payload (name, items, totalAmount, ...)
}

// New returns a record carrying the given business fields.
func New(fields map[string]any) *Record {
	r := &Record{Fields: map[string]any{}}
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// Pending reports whether the record still has to be accepted by the remote.
func (r *Record) Pending() bool { return !r.IsSynced }

// Clone returns a deep-enough copy: the envelope is copied and the field map is
// duplicated so that mutations of the clone never leak into the original.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.SyncedAt != nil {
		t := *r.SyncedAt
		c.SyncedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	c.Fields = map[string]any{}
	for k, v := range r.Fields {
		c.Fields[k] = cloneValue(v)
	}
	return &c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}

// FieldString returns the named business field as a string, or "" when absent.
func (r *Record) FieldString(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	switch v := r.Fields[name].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// MarshalJSON flattens the envelope and the business fields into one object.
// Envelope keys take precedence over business keys of the same name.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+len(envelopeFields))
	for k, v := range r.Fields {
		out[k] = v
	}
	out[FieldID] = r.ID
	if r.RemoteID != "" {
		out[FieldRemoteID] = r.RemoteID
	} else {
		delete(out, FieldRemoteID)
	}
	out[FieldIsSynced] = r.IsSynced
	out[FieldIsDeleted] = r.IsDeleted
	if r.IsUpdate {
		out[FieldIsUpdate] = true
	} else {
		delete(out, FieldIsUpdate)
	}
	if r.SyncError != "" {
		out[FieldSyncError] = r.SyncError
	} else {
		delete(out, FieldSyncError)
	}
	if r.SyncAttempts > 0 {
		out[FieldSyncAttempts] = r.SyncAttempts
	} else {
		delete(out, FieldSyncAttempts)
	}
	setTime(out, FieldCreatedAt, r.CreatedAt)
	setTime(out, FieldUpdatedAt, r.UpdatedAt)
	setTimePtr(out, FieldSyncedAt, r.SyncedAt)
	setTimePtr(out, FieldDeletedAt, r.DeletedAt)
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object back into envelope and business fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}

	*r = Record{Fields: map[string]any{}}
	for k, v := range raw {
		if _, ok := envelopeFields[k]; !ok {
			r.Fields[k] = v
		}
	}

	r.ID = asString(raw[FieldID])
	r.RemoteID = asString(raw[FieldRemoteID])
	r.IsSynced = asBool(raw[FieldIsSynced])
	r.IsDeleted = asBool(raw[FieldIsDeleted])
	r.IsUpdate = asBool(raw[FieldIsUpdate])
	r.SyncError = asString(raw[FieldSyncError])
	if n, ok := raw[FieldSyncAttempts].(json.Number); ok {
		v, err := n.Int64()
		if err != nil {
			return fmt.Errorf("invalid %s: %w", FieldSyncAttempts, err)
		}
		r.SyncAttempts = int(v)
	}

	var err error
	if r.CreatedAt, err = parseTime(raw[FieldCreatedAt]); err != nil {
		return fmt.Errorf("invalid %s: %w", FieldCreatedAt, err)
	}
	if r.UpdatedAt, err = parseTime(raw[FieldUpdatedAt]); err != nil {
		return fmt.Errorf("invalid %s: %w", FieldUpdatedAt, err)
	}
	if r.SyncedAt, err = parseTimePtr(raw[FieldSyncedAt]); err != nil {
		return fmt.Errorf("invalid %s: %w", FieldSyncedAt, err)
	}
	if r.DeletedAt, err = parseTimePtr(raw[FieldDeletedAt]); err != nil {
		return fmt.Errorf("invalid %s: %w", FieldDeletedAt, err)
	}
	return nil
}

func setTime(out map[string]any, key string, t time.Time) {
	if t.IsZero() {
		delete(out, key)
		return
	}
	out[key] = t.UTC().Format(time.RFC3339Nano)
}

func setTimePtr(out map[string]any, key string, t *time.Time) {
	if t == nil {
		delete(out, key)
		return
	}
	setTime(out, key, *t)
}

func parseTime(v any) (time.Time, error) {
	s := asString(v)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(v any) (*time.Time, error) {
	t, err := parseTime(v)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
