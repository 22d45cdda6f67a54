// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remotesrv

import (
	"github.com/hariommodi123/drag-and-drop-offline-sub000/quota"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// Unlimited marks a limit that does not apply.
const Unlimited int64 = -1

// FreePlanID names the plan whose limits apply without a valid paid term.
const FreePlanID = "free"

// Plan is one entry of the plan catalogue.
type Plan struct {
	ID     string
	Name   string
	Limits map[quota.Kind]int64
}

// Limit returns the limit of kind; kinds the plan does not list are unlimited.
func (p Plan) Limit(kind quota.Kind) int64 {
	if l, ok := p.Limits[kind]; ok {
		return l
	}
	return Unlimited
}

// Catalogue maps plan ids to plans.
type Catalogue map[string]Plan

// DefaultCatalogue returns the built-in plans.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		FreePlanID: {ID: FreePlanID, Name: "Free", Limits: map[quota.Kind]int64{
			quota.Customers: 20, quota.Products: 20, quota.Orders: 50,
		}},
		"basic": {ID: "basic", Name: "Basic", Limits: map[quota.Kind]int64{
			quota.Customers: 500, quota.Products: 500, quota.Orders: 5000,
		}},
		"pro": {ID: "pro", Name: "Pro", Limits: map[quota.Kind]int64{
			quota.Customers: Unlimited, quota.Products: Unlimited, quota.Orders: Unlimited,
		}},
	}
}

// Plan returns the plan with id, falling back to the free plan.
func (c Catalogue) Plan(id string) Plan {
	if p, ok := c[id]; ok {
		return p
	}
	if p, ok := c[FreePlanID]; ok {
		return p
	}
	return Plan{ID: FreePlanID, Name: "Free"}
}

// quotaKinds lists the collections that count against a plan.
var quotaKinds = []record.EntityType{record.Customers, record.Products, record.Orders}
