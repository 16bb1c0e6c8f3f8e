// ABOUTME: Entry point for the mxcli Matrix command-line client
// ABOUTME: One invocation runs login, actions, send, listen, and logout in order

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/output"
	"github.com/solenoid-labs/mxcli/internal/run"
)

const version = "0.1.0"

// getConfigPath returns the path to the defaults file.
// Priority: MXCLI_CONFIG env var > XDG_CONFIG_HOME/mxcli/config.toml > ~/.config/mxcli/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("MXCLI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, config.ProgramName, "config.toml")
}

func main() {
	code, err := runMain()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func runMain() (int, error) {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err == flag.ErrHelp {
		return 0, nil
	}
	if err != nil {
		return 1, err
	}
	if opts.Version {
		fmt.Println("mxcli " + version)
		return 0, nil
	}

	configPath := opts.ConfigFile
	if configPath == "" {
		configPath = getConfigPath()
	}
	defaults, err := config.LoadDefaults(configPath)
	if err != nil {
		return 1, err
	}
	defaults.Apply(&opts.Options)

	if err := opts.Validate(); err != nil {
		return 1, err
	}

	mode, err := output.ParseMode(opts.Output)
	if err != nil {
		return 1, err
	}
	redactor := newRedactor(&opts.Options)
	formatter := output.NewFormatter(os.Stdout, mode, opts.Separator, redactor)

	logger := setupLogger(&opts.Options, redactor)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := run.New(&opts.Options, formatter, logger, os.Stdin, os.Stdout)
	return runner.Run(ctx), nil
}

// newRedactor loads the stored access token so output never echoes it.
// A fresh login has no stored token yet; its run prints nothing secret.
func newRedactor(o *config.Options) *output.Redactor {
	path := config.LocateCredentials(o.CredentialsFile, false)
	creds, err := config.LoadCredentials(path)
	if err != nil {
		return output.NewRedactor("")
	}
	return output.NewRedactor(creds.AccessToken)
}

// setupLogger builds the stderr logger. Log lines pass through the
// redactor so a logged error cannot echo the access token.
func setupLogger(o *config.Options, redactor *output.Redactor) *slog.Logger {
	var logLevel slog.Level
	switch o.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}
	if o.Debug {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(output.NewRedactingWriter(os.Stderr, redactor), opts))
}
