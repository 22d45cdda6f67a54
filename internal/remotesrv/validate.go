// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remotesrv

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/dedup"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// fieldRules are the map rules checked on the business fields of each collection.
var fieldRules = map[record.EntityType]map[string]interface{}{
	record.Categories:     {"name": "required"},
	record.Products:       {"name": "required"},
	record.Customers:      {"name": "required"},
	record.Transactions:   {"type": "required"},
	record.PurchaseOrders: {"vendorName": "required"},
}

type orderItemCheck struct {
	Name         string  `validate:"required"`
	Quantity     float64 `validate:"gt=0"`
	SellingPrice float64 `validate:"gte=0"`
	CostPrice    float64 `validate:"gte=0"`
}

type orderCheck struct {
	Total float64          `validate:"gte=0"`
	Items []orderItemCheck `validate:"required,min=1,dive"`
}

// recordValidator checks pushed records before they are stored.
type recordValidator struct {
	v *validator.Validate
}

func newRecordValidator() *recordValidator {
	return &recordValidator{v: validator.New()}
}

// Struct validates a request body.
func (rv *recordValidator) Struct(s any) error {
	if err := rv.v.Struct(s); err != nil {
		return describe(err)
	}
	return nil
}

// Record validates a pushed record of et and returns the order hash for orders.
func (rv *recordValidator) Record(et record.EntityType, rec *record.Record) (string, error) {
	if rec.ID == "" {
		return "", errors.New("id: required")
	}
	if et == record.Orders {
		return rv.order(rec)
	}
	rules, ok := fieldRules[et]
	if !ok {
		return "", nil
	}
	data := make(map[string]interface{}, len(rules))
	for k := range rules {
		data[k] = rec.FieldString(k)
	}
	if errs := rv.v.ValidateMap(data, rules); len(errs) > 0 {
		keys := make([]string, 0, len(errs))
		for k := range errs {
			keys = append(keys, k+": required")
		}
		sort.Strings(keys)
		return "", errors.New(strings.Join(keys, ", "))
	}
	return "", nil
}

func (rv *recordValidator) order(rec *record.Record) (string, error) {
	p, err := dedup.OrderFromRecord(rec)
	if err != nil {
		return "", err
	}
	check := orderCheck{Total: p.Total.InexactFloat64()}
	for _, it := range p.Items {
		check.Items = append(check.Items, orderItemCheck{
			Name:         it.Name,
			Quantity:     it.Quantity.InexactFloat64(),
			SellingPrice: it.SellingPrice.InexactFloat64(),
			CostPrice:    it.CostPrice.InexactFloat64(),
		})
	}
	if err := rv.v.Struct(check); err != nil {
		return "", describe(err)
	}
	return dedup.HashOrder(p), nil
}

// describe turns validator errors into "field: tag" pairs.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, ", "))
}
