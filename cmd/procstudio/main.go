// Package main provides the procstudio binary entry point.
// Procstudio is an LLM co-authoring workspace for executable procedures:
// it keeps the text narrative, structured JSON, generated test code, and
// derived traceability map of a procedure in sync through reviewed,
// diff-gated model proposals.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	// Register LLM providers via init()
	_ "github.com/lodevel/procstudio/llm/providers"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "procstudio"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are the persistent flags shared by all subcommands.
type rootFlags struct {
	configPath   string
	workspaceDir string
	logLevel     string
	metricsAddr  string
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "LLM co-authoring for executable procedures",
		Long: `Procstudio co-authors executable procedures with an LLM.

A procedure workspace tracks four artifacts:
- procedure.md    the human-readable narrative
- procedure.json  the structured step model
- test_code.py    generated test code with step markers
- traceability    derived step-to-code mapping (never authored)

Every model reply is a proposal. Nothing is written to an artifact until
you accept its diff, and accepted changes are applied atomically with
optimistic version checks against concurrent edits.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML, default: discovered procstudio.yaml)")
	cmd.PersistentFlags().StringVarP(&flags.workspaceDir, "workspace", "w", "", "Workspace directory (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (empty = disabled)")

	cmd.AddCommand(chatCmd(flags))
	cmd.AddCommand(turnCmd(flags))
	cmd.AddCommand(statusCmd(flags))
	cmd.AddCommand(tasksCmd(flags))
	cmd.AddCommand(initCmd(flags))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// newLogger configures slog from the --log-level flag and installs it as
// the process default.
func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
