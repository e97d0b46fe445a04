package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lazypower/stepwise/internal/config"
	"github.com/lazypower/stepwise/internal/format"
	"github.com/lazypower/stepwise/internal/step"
	"github.com/lazypower/stepwise/internal/store"
)

func newStepsCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Inspect the step log",
	}
	cmd.AddCommand(newStepsListCmd(cfg))
	cmd.AddCommand(newStepsShowCmd(cfg))
	cmd.AddCommand(newStepsResubmitCmd(cfg))
	return cmd
}

func newStepsListCmd(cfg *config.Config) *cobra.Command {
	var (
		limit    int
		template string
		policy   string
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent steps, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Steps.DefaultLimit
			}
			f := store.StepFilter{Template: template, Policy: step.Policy(policy)}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.ListRecent(limit, f)
			if err != nil {
				return err
			}
			total, err := db.CountSteps(f)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No steps.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Steps(entries, total, mode(markdown)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum steps to show (default STEPWISE_STEPS_DEFAULT_LIMIT)")
	cmd.Flags().StringVar(&template, "template", "", "only steps from this template")
	cmd.Flags().StringVar(&policy, "policy", "", "only steps with this policy")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as a Markdown table")
	return cmd
}

func newStepsShowCmd(cfg *config.Config) *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStepID(args[0])
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			entry, err := db.GetStep(id)
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("step %d not found", id)
			}
			fmt.Fprint(cmd.OutOrStdout(), format.Step(entry, mode(markdown)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as a Markdown table")
	return cmd
}

func newStepsResubmitCmd(cfg *config.Config) *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "resubmit <id>",
		Short: "Evaluate a logged step's values again and save the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStepID(args[0])
			if err != nil {
				return err
			}

			eng, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.DB.Close()

			res, err := eng.Resubmit(id)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), format.Result(res, mode(markdown)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as a Markdown table")
	return cmd
}

func parseStepID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid step id %q", s)
	}
	return id, nil
}
