// Package dedup suppresses duplicate order submissions. An order is identified by a
// content hash over its seller, customer, total and items, and in-flight submissions
// hold a reservation for that hash until their remote call settles.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// DomainOrder prefixes every order hash. Bump the version when the canonical form changes.
const DomainOrder = "bizsync/order/v1"

// Order field names read from a record.
const (
	FieldSellerID     = "sellerId"
	FieldCustomerID   = "customerId"
	FieldTotalAmount  = "totalAmount"
	FieldTotal        = "total"
	FieldItems        = "items"
	FieldItemName     = "name"
	FieldQuantity     = "quantity"
	FieldSellingPrice = "sellingPrice"
	FieldCostPrice    = "costPrice"
)

// OrderItem is one line of an order.
type OrderItem struct {
	Name         string
	Quantity     decimal.Decimal
	SellingPrice decimal.Decimal
	CostPrice    decimal.Decimal
}

// OrderPayload is the logical content of an order submission.
type OrderPayload struct {
	SellerID   string
	CustomerID string
	Total      decimal.Decimal
	Items      []OrderItem
}

// OrderFromRecord extracts the hashed fields from an order record.
func OrderFromRecord(r *record.Record) (OrderPayload, error) {
	if r == nil {
		return OrderPayload{}, fmt.Errorf("nil order record")
	}
	p := OrderPayload{
		SellerID:   r.FieldString(FieldSellerID),
		CustomerID: r.FieldString(FieldCustomerID),
	}

	totalRaw, ok := r.Fields[FieldTotalAmount]
	if !ok || totalRaw == nil {
		totalRaw = r.Fields[FieldTotal]
	}
	total, err := toDecimal(totalRaw)
	if err != nil {
		return OrderPayload{}, fmt.Errorf("invalid order total: %w", err)
	}
	p.Total = total

	rawItems, _ := r.Fields[FieldItems].([]any)
	for i, raw := range rawItems {
		m, ok := raw.(map[string]any)
		if !ok {
			return OrderPayload{}, fmt.Errorf("order item %d is %T, want object", i, raw)
		}
		item := OrderItem{}
		if name, ok := m[FieldItemName].(string); ok {
			item.Name = name
		}
		if item.Quantity, err = toDecimal(m[FieldQuantity]); err != nil {
			return OrderPayload{}, fmt.Errorf("invalid quantity of item %d: %w", i, err)
		}
		if item.SellingPrice, err = toDecimal(m[FieldSellingPrice]); err != nil {
			return OrderPayload{}, fmt.Errorf("invalid sellingPrice of item %d: %w", i, err)
		}
		if item.CostPrice, err = toDecimal(m[FieldCostPrice]); err != nil {
			return OrderPayload{}, fmt.Errorf("invalid costPrice of item %d: %w", i, err)
		}
		p.Items = append(p.Items, item)
	}
	return p, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		if strings.TrimSpace(n) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(n))
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric value %T", v)
	}
}

type canonicalItem struct {
	Name         string `json:"n"`
	Quantity     string `json:"q"`
	SellingPrice string `json:"sp"`
	CostPrice    string `json:"cp"`
}

type canonicalOrder struct {
	SellerID   string          `json:"s"`
	CustomerID string          `json:"c"`
	Total      string          `json:"t"`
	Items      []canonicalItem `json:"i"`
}

func money(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// HashOrder returns the hex OrderHash of p. Amounts are compared at two decimal
// places, item names after trimming and NFC normalization, and item order is ignored.
func HashOrder(p OrderPayload) string {
	c := canonicalOrder{
		SellerID:   strings.TrimSpace(p.SellerID),
		CustomerID: strings.TrimSpace(p.CustomerID),
		Total:      money(p.Total),
		Items:      make([]canonicalItem, 0, len(p.Items)),
	}
	for _, it := range p.Items {
		c.Items = append(c.Items, canonicalItem{
			Name:         norm.NFC.String(strings.TrimSpace(it.Name)),
			Quantity:     money(it.Quantity),
			SellingPrice: money(it.SellingPrice),
			CostPrice:    money(it.CostPrice),
		})
	}
	sort.Slice(c.Items, func(i, j int) bool {
		a, b := c.Items[i], c.Items[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Quantity != b.Quantity {
			return a.Quantity < b.Quantity
		}
		if a.SellingPrice != b.SellingPrice {
			return a.SellingPrice < b.SellingPrice
		}
		return a.CostPrice < b.CostPrice
	})

	// struct fields marshal in declaration order, so the encoding is canonical
	data, _ := json.Marshal(c)
	return hashWithDomain(DomainOrder, data)
}

// HashRecord computes the OrderHash of an order record.
func HashRecord(r *record.Record) (string, error) {
	p, err := OrderFromRecord(r)
	if err != nil {
		return "", err
	}
	return HashOrder(p), nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
