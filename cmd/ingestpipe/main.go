// Package main contains the cli implementation of the tool. It uses the
// cobra package for cli tool implementation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ingestpipe/internal/pipeline"
)

type rootFlags struct {
	dir        string
	configPath string
	logPath    string
}

type extractFlags struct {
	table string
	file  string
}

type normalizeFlags struct{}

type loadFlags struct {
	workers int
}

type runFlags struct {
	workers int
}

var root rootFlags

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingestpipe",
		Short: "Staged, restartable extract/normalize/load pipeline",
	}
	rootCmd.PersistentFlags().StringVar(&root.dir, "dir", "./.ingestpipe", "pipeline working directory")
	rootCmd.PersistentFlags().StringVar(&root.configPath, "config", "credentials.toml", "path to the destination credentials TOML file")
	rootCmd.PersistentFlags().StringVar(&root.logPath, "log-file", "", "rotating log file path; logs to stderr when unset")

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(normalizeCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if root.logPath == "" {
		logger, err := zap.NewProduction()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	return pipeline.NewRotatingLogger(pipeline.RotatingLoggerOptions{Path: root.logPath})
}

func attachPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	creds, err := pipeline.LoadCredentials(root.configPath)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return pipeline.RestorePipeline(ctx, afero.NewOsFs(), root.dir, creds, newLogger())
}

func extractCmd() *cobra.Command {
	flags := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Stage a batch of NDJSON records for normalize",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runExtract(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.table, "table", "t", "", "destination root table name (required)")
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "NDJSON input file; reads stdin when unset")
	return cmd
}

func runExtract(flags *extractFlags) error {
	if flags.table == "" {
		return fmt.Errorf("--table is required")
	}

	in := os.Stdin
	if flags.file != "" {
		f, err := os.Open(flags.file)
		if err != nil {
			return fmt.Errorf("open input file: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	ctx := context.Background()
	p, err := attachPipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	dec := json.NewDecoder(in)
	records := func(yield func(map[string]any) bool) {
		for {
			var rec map[string]any
			if err := dec.Decode(&rec); err != nil {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}

	if err := p.Extract(ctx, flags.table, records); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	fmt.Printf("extracted into table %s\n", flags.table)
	return nil
}

func normalizeCmd() *cobra.Command {
	flags := &normalizeFlags{}
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Flatten every staged extract into one new load package",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runNormalize(flags)
		},
	}
	return cmd
}

func runNormalize(_ *normalizeFlags) error {
	ctx := context.Background()
	p, err := attachPipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := p.Normalize(ctx); err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	fmt.Println("normalize complete")
	return nil
}

func loadCmd() *cobra.Command {
	flags := &loadFlags{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Drive every pending load package to the warehouse",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLoad(flags)
		},
	}
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "concurrent load workers; 0 keeps the executor default")
	return cmd
}

func runLoad(flags *loadFlags) error {
	ctx := context.Background()
	p, err := attachPipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := p.Load(ctx, flags.workers); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	fmt.Println("load complete")
	return nil
}

func runCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Normalize then load everything staged so far",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runFlush(flags)
		},
	}
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "concurrent load workers; 0 keeps the executor default")
	return cmd
}

func runFlush(flags *runFlags) error {
	ctx := context.Background()
	p, err := attachPipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := p.Flush(ctx, flags.workers); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Println("run complete")
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the attached pipeline's schema name and generation",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	ctx := context.Background()
	p, err := attachPipeline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	fmt.Printf("dir=%s pipeline=%s schema=%s generation=%d\n", root.dir, p.State().PipelineName, p.State().SchemaName, p.State().Generation)
	return nil
}
