// Package plan derives the valid subscription term from the full purchase history
// and moves the active-plan pointer to a still-valid term when the current one
// expires.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"sort"
	"time"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// State is the outcome of one evaluation.
type State string

const (
	NoValidPlan           State = "no_valid_plan"
	ActiveOnCurrentTerm   State = "active_on_current_term"
	ActiveOnDifferentTerm State = "active_on_different_term"
	AwaitingRemoteRefresh State = "awaiting_remote_refresh"
)

// Decision is what Evaluate concluded. Candidate is set only for ActiveOnDifferentTerm.
type Decision struct {
	State     State
	Candidate *remote.PlanOrder
	Active    []remote.PlanOrder
}

// CurrentExpired reports whether the recorded current plan is no longer valid at now.
// A missing current plan counts as expired.
func CurrentExpired(current *remote.CurrentPlan, now time.Time) bool {
	if current == nil || current.PlanID == "" {
		return true
	}
	if current.IsExpired {
		return true
	}
	return current.ExpiresAt != nil && !now.Before(*current.ExpiresAt)
}

// Evaluate decides the plan state from the purchased terms, the recorded current
// plan and the time its details were last fetched from the remote.
func Evaluate(orders []remote.PlanOrder, current *remote.CurrentPlan, detailsRefreshedAt, now time.Time) Decision {
	var active []remote.PlanOrder
	completed := 0
	for _, o := range orders {
		if o.PaymentStatus != remote.PaymentCompleted {
			continue
		}
		completed++
		if o.ActiveAt(now) {
			active = append(active, o)
		}
	}
	if completed == 0 || len(active) == 0 {
		return Decision{State: NoValidPlan}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].StartsAt.Before(active[j].StartsAt) })

	expired := CurrentExpired(current, now)
	if !expired {
		for _, o := range active {
			if o.PlanID == current.PlanID {
				return Decision{State: ActiveOnCurrentTerm, Active: active}
			}
		}
	}

	// the local copy of an expired plan may simply be outdated
	if current != nil && current.PlanID != "" && expired {
		var expiredAt time.Time
		if current.ExpiresAt != nil {
			expiredAt = *current.ExpiresAt
		}
		if detailsRefreshedAt.IsZero() || detailsRefreshedAt.Before(expiredAt) {
			return Decision{State: AwaitingRemoteRefresh, Active: active}
		}
	}

	var candidate *remote.PlanOrder
	if current != nil && current.PlanID != "" {
		if expired {
			for i := range active {
				if active[i].PlanID == current.PlanID {
					candidate = &active[i]
					break
				}
			}
		}
		if candidate == nil {
			for i := range active {
				if active[i].PlanID != current.PlanID {
					candidate = &active[i]
					break
				}
			}
		}
	}
	if candidate == nil {
		candidate = &active[0]
	}
	c := *candidate
	return Decision{State: ActiveOnDifferentTerm, Candidate: &c, Active: active}
}
