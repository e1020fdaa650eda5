package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/refineflow/orchestrator/internal/budget"
	"github.com/refineflow/orchestrator/internal/llm"
	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/templates"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type modelRow struct {
	models.ModelProfile
	Budgets map[models.TaskKind]int `json:"budgets"`
}

func (c *cli) modelsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List model profiles and their per-task budgets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := c.registry()
			if err != nil {
				return err
			}
			calc := budget.NewCalculator(nil, c.logger)

			rows := make([]modelRow, 0, reg.Len())
			for _, p := range reg.Profiles() {
				row := modelRow{ModelProfile: p, Budgets: make(map[models.TaskKind]int)}
				for _, kind := range models.TaskKinds() {
					b, err := calc.Budget(p, kind)
					if err != nil {
						return err
					}
					row.Budgets[kind] = b
				}
				rows = append(rows, row)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tPROVIDER\tINPUT\tOUTPUT\tTEMPERATURE\tEXTRACTION\tCHAT\tEXPORT\tCANVAS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%d\t%d\t%d\t%d\n",
					r.ID, r.Provider, r.InputTokenLimit, r.OutputTokenLimit, r.SupportsTemperature,
					r.Budgets[models.TaskExtraction], r.Budgets[models.TaskChat],
					r.Budgets[models.TaskExport], r.Budgets[models.TaskCanvas])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

type budgetReport struct {
	Model      models.ModelProfile `json:"model"`
	Known      bool                `json:"known"`
	TaskKind   models.TaskKind     `json:"task_kind"`
	Budget     int                 `json:"budget"`
	Parameters map[string]any      `json:"parameters"`
	Check      *budget.CheckResult `json:"check,omitempty"`
	Warning    string              `json:"warning,omitempty"`
}

func (c *cli) budgetCmd() *cobra.Command {
	var modelID, task string
	var inputs []string
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show the output budget and request parameters for a model and task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := models.ParseTaskKind(task)
			if err != nil {
				return err
			}
			reg, err := c.registry()
			if err != nil {
				return err
			}
			if modelID == "" {
				modelID = c.settings.Provider.DefaultModel
			}
			profile, warn := reg.Lookup(modelID)
			calc := budget.NewCalculator(nil, c.logger)
			b, err := calc.Budget(profile, kind)
			if err != nil {
				return err
			}

			report := budgetReport{
				Model:      profile,
				Known:      warn == nil,
				TaskKind:   kind,
				Budget:     b,
				Parameters: llm.ParametersFor(profile, b, c.settings.Provider.Temperature).Map(),
			}
			if warn != nil {
				report.Warning = warn.Error()
			}
			if len(inputs) > 0 {
				texts := make([]string, 0, len(inputs))
				for _, in := range inputs {
					text, err := readValue(in)
					if err != nil {
						return err
					}
					texts = append(texts, text)
				}
				check, err := calc.Check(profile, kind, texts...)
				report.Check = &check
				if err != nil {
					_ = writeJSON(cmd.OutOrStdout(), report)
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model id (default provider.default_model)")
	cmd.Flags().StringVarP(&task, "task", "t", "", "Task kind: extraction, chat, export or canvas")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Prompt text to check against the window; @file reads a file (repeatable)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func (c *cli) promptCmd() *cobra.Command {
	var task string
	var pairs []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Compose the prompt for a task and print both segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := models.ParseTaskKind(task)
			if err != nil {
				return err
			}
			vars, err := parseVars(pairs)
			if err != nil {
				return err
			}
			comp, stop, err := c.composer(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			spec, err := comp.Compose(kind, vars)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), spec)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== instruction ===")
			fmt.Fprintln(out, spec.Instruction)
			fmt.Fprintln(out, "=== content ===")
			fmt.Fprintln(out, spec.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", "", "Task kind: extraction, chat, export or canvas")
	cmd.Flags().StringArrayVar(&pairs, "var", nil, "Template variable key=value; @file reads a file (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

type templateRow struct {
	TaskKind  models.TaskKind `json:"task_kind"`
	Ref       string          `json:"ref"`
	Variables []string        `json:"variables"`
	Source    string          `json:"source"`
	Digest    string          `json:"digest"`
}

func (c *cli) templatesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the active prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := templates.LoadRegistry(c.settings.TemplatesDir)
			if err != nil {
				return err
			}
			var rows []templateRow
			for _, e := range reg.Entries() {
				rows = append(rows, templateRow{
					TaskKind:  e.Template.TaskKind,
					Ref:       e.Ref(),
					Variables: e.Template.Variables,
					Source:    e.Source,
					Digest:    e.Digest,
				})
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tTEMPLATE\tDIGEST\tSOURCE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%.12s\t%s\n", r.TaskKind, r.Ref, r.Digest, r.Source)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
