package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/anatolykoptev/go-designcheck/internal/config"
	"github.com/anatolykoptev/go-designcheck/store"
	"github.com/anatolykoptev/go-designcheck/store/mongostore"
	"github.com/anatolykoptev/go-designcheck/store/sqlitestore"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// app is the state shared by all subcommands, built in PersistentPreRunE.
type app struct {
	configPath string
	logLevel   string
	threshold  int

	cfg    *config.Config
	engine *designcheck.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "designcheck",
		Short:         "Perceptual duplicate detection and raw-vs-preview checks for design uploads",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().IntVar(&a.threshold, "threshold", -1, "match threshold in bits (default from config)")

	root.AddCommand(
		a.hashCmd(),
		a.compareCmd(),
		a.dupesCmd(),
		a.extractCmd(),
		a.validateCmd(),
		a.corpusCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("threshold") {
		if a.threshold < 0 {
			return fmt.Errorf("%w: got %d", designcheck.ErrInvalidThreshold, a.threshold)
		}
		cfg.Engine.Threshold = a.threshold
	}

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr()).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	engine, err := cfg.DesignCheck()
	if err != nil {
		return err
	}
	a.cfg, a.engine = cfg, engine
	return nil
}

// openStore opens the configured record store; nil when none is configured.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	sc := a.cfg.Store
	switch sc.Driver {
	case "sqlite":
		return sqlitestore.Open(sc.Path)
	case "mongo":
		return mongostore.Connect(ctx, sc.MongoURI, sc.MongoDatabase, sc.MongoCollection)
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func (a *app) requireStore(ctx context.Context) (store.Store, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("no record store configured (set store.driver or DESIGNCHECK_STORE_DRIVER)")
	}
	return st, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
