// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/quota"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// UpgradePromptMessage is shown when no purchased term is valid.
const UpgradePromptMessage = "Your plan has expired. Upgrade to keep creating records."

// UI is the presentation surface the machine drives.
type UI interface {
	SetSubscriptionActive(active bool)
	ShowUpgradePrompt(message string)
	NavigateToUpgrade()
}

// Remote is the part of the remote service the machine calls.
type Remote interface {
	CurrentPlan(ctx context.Context) (*remote.CurrentPlan, error)
	UpgradePlan(ctx context.Context, planID, planOrderID string) (*remote.UpgradeResponse, error)
}

// Usage refreshes usage together with the purchased plan orders.
type Usage interface {
	Refresh(ctx context.Context) (quota.Summary, error)
	Plans() []remote.PlanOrder
}

// Network reports reachability.
type Network interface {
	IsOnline() bool
}

// Config holds the machine timings. The cooldowns are independent.
type Config struct {
	TickInterval    time.Duration
	RefreshCooldown time.Duration // minimum gap between plan detail refreshes
	SwitchCooldown  time.Duration // minimum gap between switch attempts to the same term
	PromptDebounce  time.Duration
}

// DefaultConfig returns the default timings.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:    time.Minute,
		RefreshCooldown: 30 * time.Second,
		SwitchCooldown:  5 * time.Minute,
		PromptDebounce:  10 * time.Minute,
	}
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Remote  Remote
	Usage   Usage
	Network Network
	UI      UI
	Clock   clock.Clock
	Logger  logrus.FieldLogger
}

// Machine is the plan continuity state machine.
type Machine struct {
	remote  Remote
	usage   Usage
	network Network
	ui      UI
	clock   clock.Clock
	logger  logrus.FieldLogger
	config  *Config
	wake    chan struct{}

	mu                 sync.Mutex
	orders             []remote.PlanOrder
	current            *remote.CurrentPlan
	detailsRefreshedAt time.Time
	lastRefreshAttempt time.Time
	switchAttempts     map[string]time.Time
	lastPrompt         time.Time
	state              State
}

// New creates a machine.
func New(deps Deps, config *Config) (*Machine, error) {
	if deps.Remote == nil || deps.Usage == nil || deps.UI == nil || deps.Network == nil {
		return nil, fmt.Errorf("remote, usage, network and ui are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Machine{
		remote:         deps.Remote,
		usage:          deps.Usage,
		network:        deps.Network,
		ui:             deps.UI,
		clock:          clock.Or(deps.Clock),
		logger:         logging.Or(deps.Logger).WithField("component", "plan"),
		config:         config,
		wake:           make(chan struct{}, 1),
		switchAttempts: make(map[string]time.Time),
	}, nil
}

// State returns the state reached by the last tick.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the recorded current plan.
func (m *Machine) Current() *remote.CurrentPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// SetPlanData accepts plan data refreshed elsewhere and wakes Run for an evaluation.
func (m *Machine) SetPlanData(orders []remote.PlanOrder, current *remote.CurrentPlan, refreshedAt time.Time) {
	m.mu.Lock()
	m.orders = append([]remote.PlanOrder(nil), orders...)
	if current != nil {
		c := *current
		m.current = &c
	}
	if refreshedAt.After(m.detailsRefreshedAt) {
		m.detailsRefreshedAt = refreshedAt
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// SetPlanOrders replaces only the purchased terms, e.g. from a usage fetch.
func (m *Machine) SetPlanOrders(orders []remote.PlanOrder) {
	m.SetPlanData(orders, nil, time.Time{})
}

// Run ticks every TickInterval and whenever plan data arrives, until ctx is done.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.wake:
		}
		m.Tick(ctx)
	}
}

// Tick evaluates the plan data and acts on the decision.
func (m *Machine) Tick(ctx context.Context) State {
	now := m.clock.Now()
	m.mu.Lock()
	d := Evaluate(m.orders, m.current, m.detailsRefreshedAt, now)
	m.mu.Unlock()

	log := m.logger.WithField("decision", d.State)
	switch d.State {
	case ActiveOnCurrentTerm:
		m.enter(ActiveOnCurrentTerm)
		m.ui.SetSubscriptionActive(true)

	case AwaitingRemoteRefresh:
		m.enter(AwaitingRemoteRefresh)
		if !m.refreshAllowed(now) {
			log.Debug("plan refresh cooling down")
			break
		}
		if err := m.Refresh(ctx); err != nil {
			log.WithError(err).Warn("plan refresh failed")
		}

	case ActiveOnDifferentTerm:
		if err := m.switchTo(ctx, *d.Candidate, now); err != nil {
			log.WithError(err).WithField("plan_id", d.Candidate.PlanID).Warn("plan switch not completed")
			m.noValidPlan(now)
			break
		}
		m.enter(ActiveOnCurrentTerm)
		m.ui.SetSubscriptionActive(true)

	default:
		m.noValidPlan(now)
	}
	return m.State()
}

// Refresh fetches the current plan and the usage (which carries the plan orders).
// The refresh stamp only moves when both succeed.
func (m *Machine) Refresh(ctx context.Context) error {
	m.mu.Lock()
	m.lastRefreshAttempt = m.clock.Now()
	m.mu.Unlock()

	if !m.network.IsOnline() {
		return fmt.Errorf("failed to refresh plan: %w", remote.ErrUnreachable)
	}
	current, err := m.remote.CurrentPlan(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch current plan: %w", err)
	}
	if _, err := m.usage.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to fetch plan orders: %w", err)
	}

	m.mu.Lock()
	m.current = current
	m.orders = m.usage.Plans()
	m.detailsRefreshedAt = m.clock.Now()
	m.mu.Unlock()
	return nil
}

func (m *Machine) refreshAllowed(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRefreshAttempt.IsZero() || now.Sub(m.lastRefreshAttempt) >= m.config.RefreshCooldown
}

func candidateKey(o remote.PlanOrder) string {
	if o.PlanOrderID != "" {
		return o.PlanOrderID
	}
	return o.PlanID
}

func (m *Machine) switchTo(ctx context.Context, candidate remote.PlanOrder, now time.Time) error {
	if !m.network.IsOnline() {
		return fmt.Errorf("cannot switch plan: %w", remote.ErrUnreachable)
	}
	key := candidateKey(candidate)

	m.mu.Lock()
	last, tried := m.switchAttempts[key]
	if tried && now.Sub(last) < m.config.SwitchCooldown {
		m.mu.Unlock()
		return fmt.Errorf("switch to %s is cooling down", key)
	}
	m.switchAttempts[key] = now
	m.mu.Unlock()

	if _, err := m.remote.UpgradePlan(ctx, candidate.PlanID, candidate.PlanOrderID); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{"plan_id": candidate.PlanID, "plan_order_id": candidate.PlanOrderID}).Info("switched active plan")

	m.mu.Lock()
	m.current = &remote.CurrentPlan{
		PlanID:      candidate.PlanID,
		PlanOrderID: candidate.PlanOrderID,
		ExpiresAt:   candidate.ExpiresAt,
	}
	m.mu.Unlock()

	if err := m.Refresh(ctx); err != nil {
		m.logger.WithError(err).Warn("refresh after plan switch failed")
	}
	return nil
}

func (m *Machine) enter(s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.state != s
	m.state = s
	return changed
}

func (m *Machine) noValidPlan(now time.Time) {
	entered := m.enter(NoValidPlan)
	m.ui.SetSubscriptionActive(false)

	m.mu.Lock()
	prompt := m.lastPrompt.IsZero() || now.Sub(m.lastPrompt) >= m.config.PromptDebounce
	if prompt {
		m.lastPrompt = now
	}
	m.mu.Unlock()

	if prompt {
		m.ui.ShowUpgradePrompt(UpgradePromptMessage)
	}
	if entered {
		m.ui.NavigateToUpgrade()
	}
}
