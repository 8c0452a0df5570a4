package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vyvo/datasheets/backend/pkg/app"
	"github.com/vyvo/datasheets/backend/pkg/catalog"
	"github.com/vyvo/datasheets/backend/pkg/config"
	"github.com/vyvo/datasheets/backend/pkg/dataset"
	"github.com/vyvo/datasheets/backend/pkg/literal"
	"github.com/vyvo/datasheets/backend/pkg/telemetry"
)

type rootOptions struct {
	configFile string
	driver     string
	dsn        string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "datasheetctl",
		Short:         "Compile and inspect catalog datasheets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./configs/config.*)")
	cmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "database driver override (pgx, sqlite3)")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "database DSN override")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	cmd.AddCommand(newCompileCmd(opts))
	cmd.AddCommand(newSeedCmd(opts))
	cmd.AddCommand(newDatasetCmd(opts))
	return cmd
}

func (o *rootOptions) load() (config.ServerConfig, error) {
	var (
		cfg config.ServerConfig
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.LoadServer()
	}
	if err != nil {
		return config.ServerConfig{}, err
	}
	if o.driver != "" {
		cfg.Database.Driver = o.driver
	}
	if o.dsn != "" {
		cfg.Database.DSN = o.dsn
	}
	return cfg, nil
}

func (o *rootOptions) open() (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if o.verbose {
		logger = app.NewLogger(cfg.LogFormat)
	}
	return app.New(cfg, logger)
}

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var (
		templateID int64
		seriesID   int64
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a stored template to PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			shutdown := telemetry.InitTracer(cmd.Context(), "datasheetctl", a.Config.Tracing)
			defer func() { _ = shutdown(context.Background()) }()

			var series *int64
			if cmd.Flags().Changed("series") {
				series = &seriesID
			}
			artifact, err := a.Service.CompileTemplate(cmd.Context(), templateID, series)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", artifact.RelativeURL, artifact.AbsolutePath)
			return nil
		},
	}
	cmd.Flags().Int64Var(&templateID, "template", 0, "template id")
	cmd.Flags().Int64Var(&seriesID, "series", 0, "series id (defaults to the template's series)")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load a YAML catalog seed into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := catalog.LoadSeed(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.Seed(cmd.Context(), seed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d series, %d variables, %d templates\n",
				len(seed.Series), len(seed.Variables), len(seed.Templates))
			return nil
		},
	}
}

func newDatasetCmd(opts *rootOptions) *cobra.Command {
	var (
		seriesID int64
		format   string
	)

	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Print the assembled dataset for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var series *int64
			if cmd.Flags().Changed("series") {
				series = &seriesID
			}
			data, err := a.Assembler.Assemble(cmd.Context(), series, nil)
			if err != nil {
				return err
			}
			return writeDataset(cmd.OutOrStdout(), dataset.SanitizeMapping(data), format)
		},
	}
	cmd.Flags().Int64Var(&seriesID, "series", 0, "series id (omit for globals only)")
	cmd.Flags().StringVar(&format, "format", "typst", "output format (typst, json)")
	return cmd
}

func writeDataset(w io.Writer, data dataset.Mapping, format string) error {
	switch strings.ToLower(format) {
	case "json":
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "typst", "":
		header, err := literal.Header(data)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, header)
		return err
	default:
		return fmt.Errorf("unsupported format: %s (supported: typst, json)", format)
	}
}
