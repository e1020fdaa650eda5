package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/health"
	"github.com/refineflow/orchestrator/internal/llm"
)

func (c *cli) healthCmd() *cobra.Command {
	var skipProvider bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the configured store, lease, records and provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			res, err := c.openResources(ctx, "")
			if err != nil {
				return err
			}
			defer res.Close()

			m := health.NewManager(c.logger)
			if err := c.registerCheckers(ctx, m, res, !skipProvider); err != nil {
				return err
			}
			report := m.Check(ctx)
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Ready() {
				return fmt.Errorf("unhealthy: %s", report.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipProvider, "skip-provider", false, "Do not build the provider adapter")
	return cmd
}

func (c *cli) registerCheckers(ctx context.Context, m *health.Manager, res *resources, withProvider bool) error {
	var checkers []health.Checker
	if p, ok := res.store.(health.Pinger); ok {
		checkers = append(checkers, health.NewPingChecker("state_store", p, nil))
	}
	if res.redis != nil && c.settings.Lock.Backend == "redis" {
		client := res.redis
		checkers = append(checkers, health.NewPingChecker("lease", health.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}), nil))
	}
	if res.records != nil {
		checkers = append(checkers, health.NewPingChecker("records", res.records, res.records.Breaker()))
	}
	if withProvider {
		reg, err := c.registry()
		if err != nil {
			return err
		}
		profile, _ := reg.Lookup(c.settings.Provider.DefaultModel)
		p, err := c.provider(ctx, profile)
		if err != nil {
			c.logger.Warn("Provider unavailable for health check", zap.Error(err))
			checkers = append(checkers, health.NewPingChecker("provider", health.PingFunc(func(context.Context) error {
				return err
			}), nil).NonCritical())
		} else if bc, ok := health.NewBreakerChecker(p.Name(), llm.GuardService); ok {
			checkers = append(checkers, bc)
		}
	}
	for _, ch := range checkers {
		if err := m.RegisterChecker(ch); err != nil {
			return err
		}
	}
	return nil
}
