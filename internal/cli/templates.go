package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/stepwise/internal/format"
	"github.com/lazypower/stepwise/internal/templates"
)

func newTemplatesCmd() *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "templates [id]",
		Short: "List templates, or show one template's fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := templates.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintln(out, format.Templates(reg.List(), mode(markdown)))
				return nil
			}

			tmpl, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", tmpl.ID, tmpl.Title)
			if tmpl.Description != "" {
				fmt.Fprintln(out, tmpl.Description)
			}
			fmt.Fprintln(out, format.Fields(tmpl, mode(markdown)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as a Markdown table")
	return cmd
}
