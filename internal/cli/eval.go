package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/stepwise/internal/client"
	"github.com/lazypower/stepwise/internal/config"
	"github.com/lazypower/stepwise/internal/engine"
	apperrors "github.com/lazypower/stepwise/internal/errors"
	"github.com/lazypower/stepwise/internal/format"
)

func newEvalCmd(cfg *config.Config) *cobra.Command {
	var (
		sets     []string
		save     bool
		remote   bool
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "eval <template>",
		Short: "Evaluate one step",
		Long: "Evaluate form values with a template and print the chosen policy. " +
			"Unset fields take the template default.",
		Example: "  stepwise eval boundary --set threat=2 --set energy=1 --save",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseSets(sets)
			if err != nil {
				return err
			}

			var res *engine.Result
			if remote {
				res, err = evalRemote(cmd.Context(), cfg, args[0], values, save)
			} else {
				res, err = evalLocal(cfg, args[0], values, save)
			}
			if err != nil {
				printFieldErrors(cmd.ErrOrStderr(), err)
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), format.Result(res, mode(markdown)))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field value as key=value (repeatable)")
	cmd.Flags().BoolVar(&save, "save", false, "append the step to the log")
	cmd.Flags().BoolVar(&remote, "remote", false, "evaluate through the server at STEPWISE_CLIENT_URL")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render tables as Markdown")
	return cmd
}

func evalLocal(cfg *config.Config, templateID string, values map[string]string, save bool) (*engine.Result, error) {
	eng, err := openEngine(cfg)
	if err != nil {
		return nil, err
	}
	defer eng.DB.Close()
	return eng.Run(templateID, values, save)
}

func evalRemote(ctx context.Context, cfg *config.Config, templateID string, values map[string]string, save bool) (*engine.Result, error) {
	c := client.New(cfg.Client.URL, cfg.Client.Timeout)
	if !c.Healthy(ctx) {
		return nil, fmt.Errorf("stepwise server not reachable at %s", cfg.Client.URL)
	}
	if save {
		return c.SubmitStep(ctx, templateID, values)
	}
	return c.Evaluate(ctx, templateID, values)
}

func parseSets(sets []string) (map[string]string, error) {
	values := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", s)
		}
		values[k] = v
	}
	return values, nil
}

func printFieldErrors(w io.Writer, err error) {
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		return
	}
	md := apperrors.GetMetadata(err)
	for _, k := range slices.Sorted(maps.Keys(md)) {
		fmt.Fprintf(w, "  %s: %s\n", k, md[k])
	}
}

func mode(markdown bool) format.Mode {
	if markdown {
		return format.Markdown
	}
	return format.ASCII
}
