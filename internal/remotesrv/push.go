// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remotesrv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/quota"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

var errQuotaReached = errors.New("plan limit reached")

// applyPush stores items of et for sellerID and reports the outcome of each one.
// Item-level problems become failures; only backend errors abort the whole push.
func (s *Server) applyPush(ctx context.Context, sellerID string, et record.EntityType, items []*record.Record) (*remote.PushResponse, error) {
	resp := &remote.PushResponse{Results: remote.PushResults{
		Success: []remote.PushAck{},
		Failed:  []remote.PushFailure{},
	}}

	plan, err := s.effectivePlan(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		ack, err := s.applyItem(ctx, sellerID, et, plan, item)
		switch {
		case err == nil:
			resp.Results.Success = append(resp.Results.Success, ack)
		case isItemError(err):
			resp.Results.Failed = append(resp.Results.Failed, remote.PushFailure{ID: item.ID, Error: err.Error()})
		default:
			return nil, err
		}
	}
	resp.Success = len(resp.Results.Failed) == 0

	s.logger.WithFields(logrus.Fields{
		"seller_id": sellerID,
		"entity":    et,
		"accepted":  len(resp.Results.Success),
		"rejected":  len(resp.Results.Failed),
	}).Debug("push applied")
	return resp, nil
}

// itemError marks a rejection of one item.
type itemError struct{ err error }

func (e itemError) Error() string { return e.err.Error() }
func (e itemError) Unwrap() error { return e.err }

func isItemError(err error) bool {
	var ie itemError
	return errors.As(err, &ie)
}

func (s *Server) applyItem(ctx context.Context, sellerID string, et record.EntityType, plan Plan, item *record.Record) (remote.PushAck, error) {
	if item.IsDeleted {
		if item.ID == "" {
			return remote.PushAck{}, itemError{errors.New("id: required")}
		}
		if err := s.backend.Delete(ctx, sellerID, et, item.ID); err != nil {
			return remote.PushAck{}, err
		}
		return remote.PushAck{ID: item.ID, RemoteID: item.RemoteID, Action: remote.ActionDeleted}, nil
	}

	hash, err := s.validate.Record(et, item)
	if err != nil {
		return remote.PushAck{}, itemError{err}
	}

	if et == record.Orders {
		unlock, err := s.gate.Lock(ctx, sellerID+":"+hash)
		if err != nil {
			if errors.Is(err, ErrGateBusy) {
				return remote.PushAck{}, itemError{err}
			}
			return remote.PushAck{}, err
		}
		defer unlock()

		id, remoteID, found, err := s.backend.FindOrder(ctx, sellerID, hash)
		if err != nil {
			return remote.PushAck{}, err
		}
		if found && id != item.ID {
			s.logger.WithFields(logrus.Fields{
				"seller_id":   sellerID,
				"id":          item.ID,
				"existing_id": id,
			}).Info("merged duplicate order")
			return remote.PushAck{ID: item.ID, RemoteID: remoteID, Action: remote.ActionDuplicate}, nil
		}
	}

	exists, err := s.backend.Exists(ctx, sellerID, et, item.ID)
	if err != nil {
		return remote.PushAck{}, err
	}
	if !exists {
		if err := s.checkLimit(ctx, sellerID, et, plan); err != nil {
			return remote.PushAck{}, err
		}
	}

	stored := item.Clone()
	now := s.clock.Now()
	stored.IsSynced = true
	stored.IsUpdate = false
	stored.SyncError = ""
	stored.SyncAttempts = 0
	stored.SyncedAt = &now
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now.Truncate(time.Millisecond)
	}

	remoteID, created, err := s.backend.Upsert(ctx, sellerID, et, StoredRecord{Record: stored, RemoteID: item.RemoteID, OrderHash: hash})
	if err != nil {
		return remote.PushAck{}, err
	}
	action := remote.ActionUpdated
	if created {
		action = remote.ActionCreated
	}
	return remote.PushAck{ID: item.ID, RemoteID: remoteID, Action: action}, nil
}

// checkLimit rejects a new record of et when the seller's plan is used up.
func (s *Server) checkLimit(ctx context.Context, sellerID string, et record.EntityType, plan Plan) error {
	kind, ok := quota.KindFor(et)
	if !ok {
		return nil
	}
	limit := plan.Limit(kind)
	if limit == Unlimited {
		return nil
	}
	used, err := s.backend.Count(ctx, sellerID, et)
	if err != nil {
		return err
	}
	if used >= limit {
		return itemError{fmt.Errorf("%w: %s %d/%d on %s", errQuotaReached, kind, used, limit, plan.Name)}
	}
	return nil
}
