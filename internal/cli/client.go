// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/engine"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/localstore"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// logUI surfaces plan continuity events in the log.
type logUI struct {
	logger logrus.FieldLogger
}

func (u logUI) SetSubscriptionActive(active bool) {
	u.logger.WithField("active", active).Info("subscription state changed")
}

func (u logUI) ShowUpgradePrompt(message string) {
	u.logger.Warn(message)
}

func (u logUI) NavigateToUpgrade() {
	u.logger.Warn("no valid plan: open the upgrade page to continue")
}

func openApp(ctx context.Context, opts *RootOptions) (*engine.App, error) {
	app, err := engine.Open(ctx, opts.Config, logUI{logger: opts.Logger.WithField("component", "ui")}, opts.Logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open client", err)
	}
	return app, nil
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the client until interrupted",
		Long: `Run the sync client: hydrate from the remote when it answers, sync pending
records on change and on a timer, track plan usage and keep the plan valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			app.OnReconciled(func(et record.EntityType, rec *record.Record) {
				rootOpts.Logger.WithFields(logrus.Fields{"entity": et, "id": rec.ID, "remote_id": rec.RemoteID}).Info("record synced")
			})
			app.Start(ctx)
			<-ctx.Done()
			rootOpts.Logger.Info("shutting down client")
			return app.Close()
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Client.Ping(ctx); err != nil {
				rootOpts.Logger.WithError(err).Warn("remote not reachable")
				app.Network.SetOnline(false)
			}
			report := app.Sync.SyncAll(ctx)

			text := map[string]any{
				"success": report.Success,
				"pushed":  report.Pushed(),
			}
			if report.Reason != "" {
				text["reason"] = report.Reason
			}
			for _, c := range report.Collections {
				if c.Pending > 0 {
					text[string(c.Entity)] = fmt.Sprintf("pending=%d pushed=%d removed=%d failed=%d skipped=%d",
						c.Pending, c.Pushed, c.Removed, c.Failed, c.Skipped)
				}
			}
			if err := (printer{format: rootOpts.Format, w: cmd.OutOrStdout()}).ok(report, text); err != nil {
				return err
			}
			if !report.Success {
				return NewExitError(ExitFailure, "sync pass did not complete: "+report.Reason)
			}
			return nil
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show records waiting to be synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := localstore.Open(rootOpts.Config.DatabasePath, rootOpts.Logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open local store", err)
			}
			defer store.Close()

			counts, err := store.PendingCounts(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count pending records", err)
			}
			deviceID, _, err := store.GetMeta(cmd.Context(), localstore.MetaDeviceID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read device id", err)
			}

			data := map[string]any{"deviceId": deviceID, "pending": counts}
			text := map[string]any{"device": deviceID}
			total := 0
			for _, et := range record.SyncOrder {
				text["pending "+string(et)] = counts[et]
				total += counts[et]
			}
			text["pending total"] = total
			return printer{format: rootOpts.Format, w: cmd.OutOrStdout()}.ok(data, text)
		},
	}
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Data string
	Sync bool
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create <entity>",
		Short: "Create a record locally",
		Long: `Create a record in the local store. Orders go through duplicate submission
checks and are pushed right away when the remote answers.

Example:
  bizsync create customers --data '{"name":"Ann"}'
  bizsync create orders --data '{"sellerId":"s1","customerId":"c1","totalAmount":100,"items":[...]}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Data, "data", "", "record fields as a JSON object (required)")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "run a sync pass after creating")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runCreate(cmd *cobra.Command, opts *CreateOptions, entity string) error {
	ctx := cmd.Context()
	et, err := record.ParseEntityType(entity)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid entity", err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(opts.Data), &fields); err != nil {
		return WrapExitError(ExitCommandError, "invalid --data", err)
	}

	app, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Client.Ping(ctx); err != nil {
		app.Network.SetOnline(false)
	} else if _, err := app.Quota.Refresh(ctx); err != nil {
		opts.Logger.WithError(err).Warn("usage refresh failed")
	}

	var (
		rec     *record.Record
		outcome = engine.OutcomeCreated
	)
	if et == record.Orders {
		rec, outcome, err = app.Engine.CreateOrder(ctx, record.New(fields))
	} else {
		rec, err = app.Engine.CreateRecord(ctx, et, record.New(fields))
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create record", err)
	}
	out := printer{format: opts.Format, w: cmd.OutOrStdout()}
	if outcome == engine.OutcomeDuplicate {
		return out.ok(map[string]any{"outcome": outcome}, map[string]any{"outcome": outcome})
	}

	if opts.Sync {
		app.Sync.SyncAll(ctx)
		if fresh, err := app.Records.Get(ctx, et, rec.ID); err == nil {
			rec = fresh
		}
	}

	text := map[string]any{
		"id":      rec.ID,
		"outcome": outcome,
		"synced":  rec.IsSynced,
	}
	if rec.RemoteID != "" {
		text["remote id"] = rec.RemoteID
	}
	return out.ok(map[string]any{"outcome": outcome, "record": rec}, text)
}
