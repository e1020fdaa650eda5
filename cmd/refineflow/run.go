package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/orchestrator"
	"github.com/refineflow/orchestrator/internal/state"
)

type runOutput struct {
	RunID        string                       `json:"run_id"`
	Text         string                       `json:"text,omitempty"`
	State        *state.ActivityState         `json:"state,omitempty"`
	FallbackUsed bool                         `json:"fallback_used,omitempty"`
	Record       orchestrator.ExecutionRecord `json:"record"`
}

func (c *cli) runCmd() *cobra.Command {
	var (
		activityID   string
		task         string
		modelID      string
		pairs        []string
		stateFile    string
		fallback     string
		fallbackText string
		timeout      time.Duration
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one task for an activity against the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			kind, err := models.ParseTaskKind(task)
			if err != nil {
				return err
			}
			vars, err := parseVars(pairs)
			if err != nil {
				return err
			}
			if modelID == "" {
				modelID = c.settings.Provider.DefaultModel
			}

			res, err := c.openResources(ctx, modelID)
			if err != nil {
				return err
			}
			defer res.Close()

			if stateFile != "" {
				if err := loadStateFile(ctx, res.store, stateFile, activityID); err != nil {
					return err
				}
			}

			req := orchestrator.RunRequest{
				ActivityID: activityID,
				Kind:       kind,
				ModelID:    modelID,
				Variables:  vars,
				Timeout:    timeout,
			}
			switch fallback {
			case "":
			case "template":
				req.Fallback = orchestrator.TemplateFallback{Composer: res.composer}
			case "static":
				req.Fallback = orchestrator.StaticFallback{Text: fallbackText}
			default:
				return fmt.Errorf("unknown --fallback %q (want template or static)", fallback)
			}

			out, err := res.runner.Run(ctx, req)
			if err != nil {
				return err
			}
			if out.State != nil && stateFile != "" {
				if err := writeStateFile(stateFile, *out.State); err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), runOutput{
					RunID:        out.RunID,
					Text:         out.Text,
					State:        out.State,
					FallbackUsed: out.FallbackUsed,
					Record:       out.Record,
				})
			}
			if out.State != nil {
				return writeJSON(cmd.OutOrStdout(), out.State)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&activityID, "activity", "a", "", "Activity id")
	cmd.Flags().StringVarP(&task, "task", "t", "", "Task kind: extraction, chat, export or canvas")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model id (default provider.default_model)")
	cmd.Flags().StringArrayVar(&pairs, "var", nil, "Template variable key=value; @file reads a file (repeatable)")
	cmd.Flags().StringVar(&stateFile, "state-file", "", "JSON file holding the activity state; updated after extraction")
	cmd.Flags().StringVar(&fallback, "fallback", "", "Fallback for text tasks: template or static")
	cmd.Flags().StringVar(&fallbackText, "fallback-text", "", "Text served by the static fallback")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Provider call timeout (default provider.timeout)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result with its execution record as JSON")
	_ = cmd.MarkFlagRequired("activity")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func (c *cli) finalizeCmd() *cobra.Command {
	var activityID, stateFile string
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Mark an activity's state as finalized (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			res, err := c.openResources(ctx, "")
			if err != nil {
				return err
			}
			defer res.Close()

			if stateFile != "" {
				if err := loadStateFile(ctx, res.store, stateFile, activityID); err != nil {
					return err
				}
			}
			final, err := res.runner.Finalize(ctx, activityID)
			if err != nil {
				return err
			}
			if stateFile != "" {
				if err := writeStateFile(stateFile, final); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), final)
		},
	}
	cmd.Flags().StringVarP(&activityID, "activity", "a", "", "Activity id")
	cmd.Flags().StringVar(&stateFile, "state-file", "", "JSON file holding the activity state")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var activityID string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent execution records of an activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.settings.Records.Enabled() {
				return errors.New("execution records are disabled (set records.driver)")
			}
			w, err := c.openRecords(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			recs, err := w.Recent(cmd.Context(), activityID, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVarP(&activityID, "activity", "a", "", "Activity id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}
