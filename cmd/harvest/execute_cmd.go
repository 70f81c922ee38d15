package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/effort/modules/harvest/services"
	"github.com/iota-uz/effort/pkg/composables"
	"github.com/iota-uz/effort/pkg/eventbus"
	"github.com/iota-uz/effort/pkg/metrics"
)

type executeOutput struct {
	Command    string            `json:"command"`
	Status     string            `json:"status"`
	DurationMS int64             `json:"duration_ms"`
	Summary    *services.Summary `json:"summary"`
}

func newExecuteCmd() *cobra.Command {
	var req services.ExecuteRequest
	var termFlag, actorFlag string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Harvest a term into the effort database in one transaction",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseTermFlag(termFlag)
			if err != nil {
				return err
			}
			actor, err := uuid.Parse(strings.TrimSpace(actorFlag))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --actor: %w", err))
			}
			req = services.ExecuteRequest{TermCode: code, Actor: actor}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := app.context(cmd.Context(), "execute")
			start := time.Now()
			summary, err := executeWithProgress(ctx, app.bus, cmd.OutOrStdout(), func(ctx context.Context) (*services.Summary, error) {
				var summary *services.Summary
				err := composables.InTx(ctx, func(txCtx context.Context) error {
					var err error
					summary, err = app.svc.Execute(txCtx, req, nil)
					return err
				})
				return summary, err
			})

			pusher := metrics.NewPusher(app.conf.Prometheus.PushgatewayURL, app.conf.Prometheus.JobName, prometheus.DefaultGatherer).
				Grouping("term", req.TermCode.String())
			if pushErr := pusher.Push(context.WithoutCancel(ctx)); pushErr != nil {
				composables.UseLogger(ctx).WithError(pushErr).Warn("harvest.metrics.push_failed")
			}

			if err != nil {
				return executeError(err)
			}
			return writeJSONLine(cmd.OutOrStdout(), executeOutput{
				Command:    "execute",
				Status:     "committed",
				DurationMS: time.Since(start).Milliseconds(),
				Summary:    summary,
			})
		},
	}

	cmd.Flags().StringVar(&termFlag, "term", "", "Term code, e.g. 202409 (required)")
	cmd.Flags().StringVar(&actorFlag, "actor", "", "UUID of the user the run is audited as (required)")
	_ = cmd.MarkFlagRequired("term")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// executeWithProgress runs fn while relaying every progress event published on
// bus to out as a JSON line. It returns once fn has finished and every event
// it published has been written.
func executeWithProgress(
	ctx context.Context,
	bus eventbus.EventBus,
	out io.Writer,
	fn func(context.Context) (*services.Summary, error),
) (*services.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	events := make(chan services.ProgressEvent, 64)
	unsubscribe := bus.Subscribe(func(ev services.ProgressEvent) {
		select {
		case events <- ev:
		case <-gctx.Done():
		}
	})

	var summary *services.Summary
	g.Go(func() error {
		defer close(events)
		defer unsubscribe()
		var err error
		summary, err = fn(gctx)
		return err
	})
	g.Go(func() error {
		for ev := range events {
			if err := writeJSONLine(out, ev); err != nil {
				// keep draining so the publisher is never blocked
				for range events {
				}
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

func executeError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return withCode(exitUsage, err)
	}
	return withCode(exitDBWrite, err)
}
