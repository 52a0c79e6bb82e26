package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wilskk/statify-sub002/internal/config"
	"github.com/wilskk/statify-sub002/internal/dataset"
	"github.com/wilskk/statify-sub002/internal/design"
	"github.com/wilskk/statify-sub002/internal/glm"
	"github.com/wilskk/statify-sub002/internal/report"
)

var (
	verbose    bool
	dataPath   string
	configPath string
	testsOut   string
	paramsOut  string
	showL      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "glm",
	Short: "General linear model analysis",
	Long: `glm fits a univariate general linear model with categorical factors,
covariates and interactions, and reports Type I-IV tests of each term.

The data file is a CSV with a header row (optionally .gz, .zst or .lz4
compressed). The analysis request is a YAML or TOML file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit the model and print the tests and parameter estimates",
	RunE:  runFit,
}

var designCmd = &cobra.Command{
	Use:   "design",
	Short: "Print the parameter list, term map and factor codings",
	RunE:  runDesign,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&dataPath, "data", "d", "", "CSV data file")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or TOML analysis request")
	_ = rootCmd.MarkPersistentFlagRequired("data")
	_ = rootCmd.MarkPersistentFlagRequired("config")

	fitCmd.Flags().StringVar(&testsOut, "out", "", "write the effects table as CSV")
	fitCmd.Flags().StringVar(&paramsOut, "params-out", "", "write the parameter estimates as CSV")
	fitCmd.Flags().BoolVar(&showL, "lmatrix", false, "print the estimable functions")

	rootCmd.AddCommand(fitCmd, designCmd)
}

// load reads the request and the data it refers to.
func load() (*config.Request, *dataset.Table, error) {
	req, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	table, err := dataset.LoadCSV(dataPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Loaded data",
		zap.String("path", dataPath),
		zap.Int("rows", table.NumRows()),
		zap.Strings("variables", table.Names))
	return req, table, nil
}

func runFit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load request and data
	req, table, err := load()
	if err != nil {
		return err
	}
	spec, err := req.Spec()
	if err != nil {
		return err
	}
	opts, err := req.Options()
	if err != nil {
		return err
	}

	// 2. Analyze
	rep, err := glm.NewAnalyzer(logger, opts).Analyze(ctx, table, spec)
	if err != nil {
		return err
	}

	// 3. Print tables
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Request %s, design %016x\n", rep.RequestID, rep.DesignDigest)
	report.PrintTests(out, rep)
	report.PrintEstimates(out, rep)
	if showL {
		report.PrintLMatrix(out, rep.Parameters, rep.LRows)
	}

	// 4. Write CSV outputs
	if testsOut != "" {
		if err := report.OutputTestsToCSV(testsOut, rep); err != nil {
			return err
		}
		fmt.Fprintln(out, "Tests written to", testsOut)
	}
	if paramsOut != "" {
		if err := report.OutputEstimatesToCSV(paramsOut, rep); err != nil {
			return err
		}
		fmt.Fprintln(out, "Parameter estimates written to", paramsOut)
	}
	return nil
}

func runDesign(cmd *cobra.Command, args []string) error {
	req, table, err := load()
	if err != nil {
		return err
	}
	spec, err := req.Spec()
	if err != nil {
		return err
	}
	m, err := design.Build(table, spec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Design %016x\n", glm.Digest(m))
	report.PrintDesign(out, m)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
