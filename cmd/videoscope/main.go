package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/logging"
	"github.com/mikeyg42/videoscope/internal/secret"
	"github.com/mikeyg42/videoscope/internal/validate"
)

const (
	exitInterrupted = 130
	masterKeyEnv    = "VIDEOSCOPE_MASTER_KEY"
)

// cliFlags are the command line overrides on top of the config file.
type cliFlags struct {
	video      string
	outVideo   string
	outReport  string
	configPath string
	logLevel   string
	emotion    string
	seal       string
	genKey     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if flags.genKey || flags.seal != "" {
		return secretTool(flags, stdout, stderr)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	defer logging.Install(logger)()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg)
	if err != nil {
		logger.Error("Failed to create application", zap.Error(err))
		return 1
	}
	defer app.Cleanup()

	res, err := app.Run(ctx)
	if err != nil && !(res.Interrupted && errors.Is(err, context.Canceled)) {
		logger.Error("Analysis failed", zap.Error(err))
		return 1
	}

	fmt.Fprintln(stdout, "OK!")
	fmt.Fprintf(stdout, "Frames analyzed: %d\n", res.Processed)
	fmt.Fprintf(stdout, "Video written: %s\n", cfg.Video.Output)
	fmt.Fprintf(stdout, "Report written: %s\n", cfg.Report.Path)

	if res.Interrupted {
		return exitInterrupted
	}
	return 0
}

func parseFlags(args []string, output io.Writer) (*cliFlags, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("videoscope", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.video, "video", "", "input video file or directory of frames (required)")
	fs.StringVar(&f.outVideo, "out_video", "", "annotated output video path")
	fs.StringVar(&f.outReport, "out_report", "", "JSON report path")
	fs.StringVar(&f.configPath, "config", "", "optional YAML configuration file")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.emotion, "emotion", "", "emotion provider (none, openai, gemini, onnx)")
	fs.StringVar(&f.seal, "seal", "", "print the sealed form of a secret using $"+masterKeyEnv+" and exit")
	fs.BoolVar(&f.genKey, "genkey", false, "print a new master key and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.video == "" && !f.genKey && f.seal == "" {
		fs.Usage()
		return nil, errors.New("-video is required")
	}
	return f, nil
}

// loadConfig layers defaults, the config file, the environment and flags,
// then validates the result.
func loadConfig(f *cliFlags) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.Video.Input = f.video
	if f.outVideo != "" {
		cfg.Video.Output = f.outVideo
	}
	if f.outReport != "" {
		cfg.Report.Path = f.outReport
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.emotion != "" {
		cfg.Emotion.Provider = f.emotion
	}
	config.ApplyEnv(cfg)
	if err := config.UnsealSecrets(cfg, os.Getenv(masterKeyEnv)); err != nil {
		return nil, err
	}

	if err := validate.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func secretTool(f *cliFlags, stdout, stderr io.Writer) int {
	if f.genKey {
		key, err := secret.GenerateKey()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, key)
		return 0
	}
	sealed, err := secret.Seal(f.seal, os.Getenv(masterKeyEnv))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to seal value: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, sealed)
	return 0
}
