// Package remotesrv is a reference implementation of the remote service the sync
// engine talks to. It keeps every seller's records, computes plan usage and owns
// the current-plan pointer.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remotesrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/auth"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/quota"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// Config tunes the server.
type Config struct {
	TokenExpiry time.Duration
	// AllowTokenIssue enables POST /auth/token, which signs a token for any seller.
	AllowTokenIssue bool
	LogRequests     bool
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{TokenExpiry: 24 * time.Hour, AllowTokenIssue: true}
}

// Deps are the collaborators of a Server. Gate, Catalogue and Clock are optional.
type Deps struct {
	Backend   Backend
	Auth      *remote.JWTAuth
	Gate      OrderGate
	Catalogue Catalogue
	Clock     clock.Clock
	Logger    logrus.FieldLogger
}

// Server serves the remote REST API.
type Server struct {
	backend   Backend
	auth      *remote.JWTAuth
	gate      OrderGate
	catalogue Catalogue
	validate  *recordValidator
	config    *Config
	clock     clock.Clock
	logger    logrus.FieldLogger
}

// New creates a server.
func New(deps Deps, config *Config) (*Server, error) {
	if deps.Backend == nil || deps.Auth == nil {
		return nil, fmt.Errorf("backend and auth are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	gate := deps.Gate
	if gate == nil {
		gate = NewMemoryGate()
	}
	catalogue := deps.Catalogue
	if catalogue == nil {
		catalogue = DefaultCatalogue()
	}
	return &Server{
		backend:   deps.Backend,
		auth:      deps.Auth,
		gate:      gate,
		catalogue: catalogue,
		validate:  newRecordValidator(),
		config:    config,
		clock:     clock.Or(deps.Clock),
		logger:    logging.Or(deps.Logger).WithField("component", "remotesrv"),
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.config.AllowTokenIssue {
		mux.HandleFunc("POST /auth/token", s.handleToken)
	}
	mux.Handle("GET /auth/me", s.requireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /sync/{endpoint}", s.requireAuth(http.HandlerFunc(s.handlePush)))
	mux.Handle("GET /data/all", s.requireAuth(http.HandlerFunc(s.handleSnapshot)))
	mux.Handle("GET /data/current-plan", s.requireAuth(http.HandlerFunc(s.handleCurrentPlan)))
	mux.Handle("POST /data/plans/upgrade", s.requireAuth(http.HandlerFunc(s.handleUpgrade)))
	mux.Handle("GET /plans/usage", s.requireAuth(http.HandlerFunc(s.handleUsage)))
	mux.Handle("POST /plans/purchase", s.requireAuth(http.HandlerFunc(s.handlePurchase)))
	return s.logRequests(mux)
}

// requireAuth validates the bearer token and stores the identity in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ClaimsFromRequest(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		ctx := auth.WithIdentity(r.Context(), auth.Identity{SellerID: claims.Subject, DeviceID: claims.DeviceID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// seller returns the authenticated seller, or answers 401 and returns false.
func (s *Server) seller(w http.ResponseWriter, r *http.Request) (string, bool) {
	seller, err := auth.SellerID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", false
	}
	return seller, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "bizsync-remote"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req remote.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	tok, exp, err := s.auth.GenerateToken(req.SellerID, req.DeviceID, s.config.TokenExpiry)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "token_error", err.Error())
		return
	}
	s.logger.WithFields(logrus.Fields{"seller_id": req.SellerID, "device_id": req.DeviceID}).Info("issued token")
	s.writeJSON(w, http.StatusOK, remote.TokenResponse{Token: tok, ExpiresAt: exp})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, remote.MeResponse{SellerID: id.SellerID, DeviceID: id.DeviceID})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	seller, ok := s.seller(w, r)
	if !ok {
		return
	}
	et, ok := remote.EntityForEndpoint(r.PathValue("endpoint"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown_endpoint", "no such collection")
		return
	}

	var req remote.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse push request")
		return
	}
	if req.SellerID != "" && req.SellerID != seller {
		s.writeError(w, http.StatusForbidden, "seller_mismatch", "sellerId does not match the token")
		return
	}

	resp, err := s.applyPush(r.Context(), seller, et, req.Items)
	if err != nil {
		logging.LogError(s.logger, "remotesrv", "push", logrus.Fields{"seller_id": seller, "entity": et}, err)
		s.writeError(w, http.StatusInternalServerError, "push_failed", "failed to process push")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	seller, ok := s.seller(w, r)
	if !ok {
		return
	}
	data, err := s.backend.Snapshot(r.Context(), seller)
	if err != nil {
		s.logger.WithError(err).Error("snapshot failed")
		s.writeError(w, http.StatusInternalServerError, "snapshot_failed", "failed to load data")
		return
	}
	s.writeJSON(w, http.StatusOK, remote.SnapshotResponse{Data: data})
}

func (s *Server) handleCurrentPlan(w http.ResponseWriter, r *http.Request) {
	seller, ok := s.seller(w, r)
	if !ok {
		return
	}
	current, err := s.currentPlan(r.Context(), seller)
	if err != nil {
		s.logger.WithError(err).Error("current plan lookup failed")
		s.writeError(w, http.StatusInternalServerError, "plan_failed", "failed to load current plan")
		return
	}
	s.writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	seller, ok := s.seller(w, r)
	if !ok {
		return
	}
	resp, err := s.usage(r.Context(), seller)
	if err != nil {
		s.logger.WithError(err).Error("usage computation failed")
		s.writeError(w, http.StatusInternalServerError, "usage_failed", "failed to compute usage")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	seller, ok := s.seller(w, r)
	if !ok {
		return
	}
	var req remote.UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	orders, err := s.backend.PlanOrders(r.Context(), seller)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "plan_failed", "failed to load plan orders")
		return
	}
	target, ok := pickUpgradeTarget(orders, req, s.clock.Now())
	if !ok {
		s.writeJSON(w, http.StatusConflict, remote.UpgradeResponse{
			Success: false,
			Message: "no paid and active plan order matches the request",
		})
		return
	}
	if err := s.backend.SetCurrentPlanOrder(r.Context(), seller, target.PlanOrderID); err != nil {
		s.logger.WithError(err).Error("switching plan failed")
		s.writeError(w, http.StatusInternalServerError, "plan_failed", "failed to switch plan")
		return
	}
	s.logger.WithFields(logrus.Fields{"seller_id": seller, "plan_id": target.PlanID, "plan_order_id": target.PlanOrderID}).Info("current plan switched")

	current, err := s.currentPlan(r.Context(), seller)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "plan_failed", "failed to load current plan")
		return
	}
	s.writeJSON(w, http.StatusOK, remote.UpgradeResponse{Success: true, Plan: current})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	seller, ok := s.seller(w, r)
	if !ok {
		return
	}
	var req remote.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, ok := s.catalogue[req.PlanID]; !ok {
		s.writeError(w, http.StatusBadRequest, "unknown_plan", "no such plan")
		return
	}
	order, err := s.Purchase(r.Context(), seller, req.PlanID, time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "purchase_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, order)
}

// Purchase records a paid term of planID for seller. The term starts when the
// seller's last paid term ends; a seller without a current plan is switched to it.
func (s *Server) Purchase(ctx context.Context, sellerID, planID string, length time.Duration) (remote.PlanOrder, error) {
	orders, err := s.backend.PlanOrders(ctx, sellerID)
	if err != nil {
		return remote.PlanOrder{}, err
	}
	start := latestPaidEnd(orders, s.clock.Now())
	expires := start.Add(length)
	order := remote.PlanOrder{
		PlanID:        planID,
		PlanOrderID:   uuid.New().String(),
		PaymentStatus: remote.PaymentCompleted,
		StartsAt:      start,
		ExpiresAt:     &expires,
	}
	if err := s.backend.AddPlanOrder(ctx, sellerID, order); err != nil {
		return remote.PlanOrder{}, err
	}
	if _, ok, err := s.backend.CurrentPlanOrder(ctx, sellerID); err == nil && !ok {
		if err := s.backend.SetCurrentPlanOrder(ctx, sellerID, order.PlanOrderID); err != nil {
			return remote.PlanOrder{}, err
		}
		order.IsCurrent = true
	}
	return order, nil
}

// pickUpgradeTarget finds the paid term req names that is active at now.
func pickUpgradeTarget(orders []remote.PlanOrder, req remote.UpgradeRequest, now time.Time) (remote.PlanOrder, bool) {
	var candidates []remote.PlanOrder
	for _, o := range orders {
		if o.PlanID != req.PlanID || o.PaymentStatus != remote.PaymentCompleted || !o.ActiveAt(now) {
			continue
		}
		if req.PlanOrderID != "" && o.PlanOrderID != req.PlanOrderID {
			continue
		}
		candidates = append(candidates, o)
	}
	if len(candidates) == 0 {
		return remote.PlanOrder{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].StartsAt.Before(candidates[j].StartsAt) })
	return candidates[0], true
}

func (s *Server) currentPlan(ctx context.Context, sellerID string) (*remote.CurrentPlan, error) {
	o, ok, err := s.backend.CurrentPlanOrder(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &remote.CurrentPlan{IsExpired: true}, nil
	}
	now := s.clock.Now()
	return &remote.CurrentPlan{
		PlanID:      o.PlanID,
		PlanOrderID: o.PlanOrderID,
		Name:        s.catalogue.Plan(o.PlanID).Name,
		ExpiresAt:   o.ExpiresAt,
		IsExpired:   !o.ActiveAt(now),
	}, nil
}

// effectivePlan is the plan whose limits apply now.
func (s *Server) effectivePlan(ctx context.Context, sellerID string) (Plan, error) {
	o, ok, err := s.backend.CurrentPlanOrder(ctx, sellerID)
	if err != nil {
		return Plan{}, err
	}
	if !ok || o.PaymentStatus != remote.PaymentCompleted || !o.ActiveAt(s.clock.Now()) {
		return s.catalogue.Plan(FreePlanID), nil
	}
	return s.catalogue.Plan(o.PlanID), nil
}

func (s *Server) usage(ctx context.Context, sellerID string) (*remote.UsageResponse, error) {
	plan, err := s.effectivePlan(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	summary := make(map[string]remote.UsageCounter, len(quotaKinds))
	for _, et := range quotaKinds {
		kind, _ := quota.KindFor(et)
		used, err := s.backend.Count(ctx, sellerID, et)
		if err != nil {
			return nil, err
		}
		limit := plan.Limit(kind)
		c := remote.UsageCounter{Used: used, Limit: limit, IsUnlimited: limit == Unlimited}
		if !c.IsUnlimited {
			c.Remaining = max(limit-used, 0)
		}
		summary[string(kind)] = c
	}
	orders, err := s.backend.PlanOrders(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return &remote.UsageResponse{Summary: summary, Plans: orders}, nil
}

// writeJSON writes v with status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

// writeError writes a standardized error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	s.writeJSON(w, statusCode, remote.ErrorResponse{Error: errorCode, Message: message})
	s.logger.WithFields(logrus.Fields{
		"status_code": statusCode,
		"error_code":  errorCode,
		"message":     message,
	}).Debug("HTTP error response")
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	if !s.config.LogRequests {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("HTTP request")
	})
}
