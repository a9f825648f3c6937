package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	logger "github.com/Easy-Infra-Ltd/easy-logger"
	"github.com/spf13/cobra"

	"github.com/ppiankov/promptguard/internal/config"
	"github.com/ppiankov/promptguard/internal/scan"
)

var (
	configPath   string
	flagFailMode string
	flagEndpoint string
	flagTimeout  time.Duration
)

// errUnsafe makes the process exit with status 2 after a verdict was printed.
var errUnsafe = errors.New("content flagged as unsafe")

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.promptguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagFailMode, "fail-mode", "", "Override fail mode (open|closed)")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "Override scan service URL")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "Override scan timeout (e.g. 5s)")
}

var rootCmd = &cobra.Command{
	Use:           "promptguard",
	Short:         "Scan prompts before they reach an LLM",
	Long:          "Screens user prompts, SQL and file writes against the promptguard scan service.\nRun as a CLI, a scanning reverse proxy, or an MCP tool server.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Unsafe verdicts exit 2, errors exit 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errUnsafe) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(process string) *slog.Logger {
	return logger.CreateLoggerFromEnv(nil, "blue").With("process", process)
}

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig() (*config.Config, string, error) {
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return nil, "", err
	}
	if err := applyFlagOverrides(cfg); err != nil {
		return nil, "", err
	}
	cfg.AuditLog = expandHome(cfg.AuditLog)
	return cfg, hash, nil
}

// applyFlagOverrides lays the global scan flags over cfg and validates the
// result. Flags win over the file on every load, including hot reloads.
func applyFlagOverrides(cfg *config.Config) error {
	if flagFailMode != "" {
		cfg.FailMode = scan.FailMode(flagFailMode)
	}
	if flagEndpoint != "" {
		cfg.Endpoint = flagEndpoint
	}
	if flagTimeout != 0 {
		cfg.ScanTimeout = flagTimeout
	}
	return cfg.Validate()
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
