package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	imageforensics "github.com/ksamirdev/unai"
	"github.com/ksamirdev/unai/internal/config"
	"github.com/ksamirdev/unai/internal/logging"
	"github.com/ksamirdev/unai/internal/utils"
	"github.com/ksamirdev/unai/pkg/pipeline"
	"github.com/ksamirdev/unai/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath  string
	modelsDir   string
	projectRoot string
	logLevel    string
	logFormat   string
	rejectMock  bool
}

// run executes the CLI and returns the exit code. stdout receives exactly
// one JSON record; everything else goes to stderr.
func run(args []string, stdout, stderr io.Writer) int {
	code := 0
	cmd := newRootCmd(stdout, stderr, &code)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		emit(stdout, types.NewErrorResult(err))
		return 1
	}
	return code
}

func newRootCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	var opts options
	c := &cobra.Command{
		Use:           "unai IMAGE",
		Short:         "Detect synthetic images and regenerate the ones flagged",
		Version:       imageforensics.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: unai <image_path>")
			}

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
			if err != nil {
				return err
			}

			analyzer := imageforensics.NewWithConfig(
				cfg.ClassifierSettings(),
				cfg.GeneratorSettings(),
				pipeline.Options{RejectMock: cfg.Classifier.RejectMock},
				log,
			)
			result := analyzer.Analyze(cmd.Context(), args[0])
			emit(stdout, result)
			*code = pipeline.ExitCode(result)
			return nil
		},
	}
	c.SetOut(stderr)
	c.SetErr(stderr)

	c.Flags().StringVar(&opts.configPath, "config", "", "configuration file (default "+config.GetConfigPath()+" if present)")
	c.Flags().StringVar(&opts.modelsDir, "models-dir", "", "directory holding the model artifacts")
	c.Flags().StringVar(&opts.projectRoot, "project-root", "", "root under which uploads/regenerated is written")
	c.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	c.Flags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	c.Flags().BoolVar(&opts.rejectMock, "reject-mock", false, "fail when no trained detection model is available")
	return c
}

// loadConfig layers defaults, the config file, the environment and flags
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	cfg := config.Default()

	path := opts.configPath
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("models-dir") {
		cfg.Models.Dir = opts.modelsDir
	}
	if flags.Changed("project-root") {
		cfg.Output.ProjectRoot = opts.projectRoot
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("reject-mock") {
		cfg.Classifier.RejectMock = opts.rejectMock
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// emit writes the result as a single JSON line
func emit(w io.Writer, result *types.PipelineResult) {
	data, err := json.Marshal(result)
	if err != nil {
		data, _ = json.Marshal(types.ErrorRecord{PipelineStatus: types.StatusError, Error: err.Error()})
	}
	fmt.Fprintf(w, "%s\n", data)
}
