package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/stepwise/internal/config"
	"github.com/lazypower/stepwise/internal/engine"
	"github.com/lazypower/stepwise/internal/logging"
	"github.com/lazypower/stepwise/internal/store"
	"github.com/lazypower/stepwise/internal/templates"
)

// NewRootCmd builds the stepwise command tree.
func NewRootCmd() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:   "stepwise",
		Short: "Rule-based decision steps with an append-only log",
		Long: "Stepwise picks a policy (withdraw, assert or comply) from a few integer observations " +
			"and keeps every step in an append-only SQLite log.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			logging.Init(cmd.ErrOrStderr(), cfg.SlogLevel(), cfg.LogFormat())
			return nil
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd(&cfg))
	root.AddCommand(newEvalCmd(&cfg))
	root.AddCommand(newStepsCmd(&cfg))
	root.AddCommand(newTemplatesCmd())
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

// openDB opens the step log named by the config, or the default path.
func openDB(cfg *config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// openEngine opens the database and loads templates. The caller closes the DB.
func openEngine(cfg *config.Config) (*engine.Engine, error) {
	reg, err := templates.Load()
	if err != nil {
		return nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(db, reg), nil
}
