// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	MetricsOpPass = "pass"
	MetricsOpPush = "push" // stage is the collection name

	MetricsStageTotal = "total"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (o *Orchestrator) stageTimingEnabled() bool {
	return o.config.StageMetrics != nil || o.config.LogStageTimings
}

func (o *Orchestrator) stageStart() time.Time {
	if !o.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o *Orchestrator) observeStage(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}
	if o.config.StageMetrics != nil {
		o.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if o.config.LogStageTimings {
		o.logger.WithFields(logrus.Fields{
			"op":       op,
			"stage":    stage,
			"duration": timing.Duration,
			"count":    count,
			"error":    hadError,
		}).Info("sync stage timing")
	}
}
