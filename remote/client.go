// Package remote is the REST client for the business data service: record pushes,
// plan and usage queries, plan switches and full snapshots.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// Client talks to the remote service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	tokens  TokenSource
	logger  logrus.FieldLogger
}

// NewClient creates a client. A nil httpClient gets a 30 second timeout.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client, logger logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    httpClient,
		tokens:  tokens,
		logger:  logging.Or(logger).WithField("component", "remote"),
	}
}

// Push sends items of one collection to POST /sync/{endpoint}.
func (c *Client) Push(ctx context.Context, endpoint, sellerID string, items []*record.Record) (*PushResponse, error) {
	var resp PushResponse
	req := PushRequest{SellerID: sellerID, Items: items}
	if err := c.do(ctx, http.MethodPost, "/sync/"+endpoint, req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentPlan fetches GET /data/current-plan.
func (c *Client) CurrentPlan(ctx context.Context) (*CurrentPlan, error) {
	var resp CurrentPlan
	if err := c.do(ctx, http.MethodGet, "/data/current-plan", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Usage fetches GET /plans/usage.
func (c *Client) Usage(ctx context.Context) (*UsageResponse, error) {
	var resp UsageResponse
	if err := c.do(ctx, http.MethodGet, "/plans/usage", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpgradePlan asks the remote to make planID (optionally a specific term) current.
func (c *Client) UpgradePlan(ctx context.Context, planID, planOrderID string) (*UpgradeResponse, error) {
	var resp UpgradeResponse
	req := UpgradeRequest{PlanID: planID, PlanOrderID: planOrderID}
	if err := c.do(ctx, http.MethodPost, "/data/plans/upgrade", req, &resp, true); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "plan switch rejected"
		}
		return &resp, fmt.Errorf("failed to switch plan to %s: %s", planID, msg)
	}
	return &resp, nil
}

// Snapshot fetches the full authoritative data set from GET /data/all.
func (c *Client) Snapshot(ctx context.Context) (*SnapshotResponse, error) {
	var resp SnapshotResponse
	if err := c.do(ctx, http.MethodGet, "/data/all", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SellerID resolves the remote account identifier from GET /auth/me.
func (c *Client) SellerID(ctx context.Context) (string, error) {
	var resp MeResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &resp, true); err != nil {
		return "", err
	}
	if resp.SellerID == "" {
		return "", fmt.Errorf("remote returned an empty seller id")
	}
	return resp.SellerID, nil
}

// Ping probes GET /health without credentials.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, false)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, authenticated bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if authenticated && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("remote call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			se.Code = er.Error
			se.Message = er.Message
			if se.Message == "" {
				se.Message = er.Error
			}
		}
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
