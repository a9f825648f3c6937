package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/scan"
	"github.com/ppiankov/promptguard/internal/verdict"
)

var (
	scanContext      string
	sqlDatabase      string
	sqlDestructive   bool
	fileContentPath  string
	fileContentValue string
)

func init() {
	rootCmd.AddCommand(scanCmd, scanSQLCmd, scanFileCmd)
	scanCmd.Flags().StringVar(&scanContext, "context", "", "Prior conversation context")
	scanSQLCmd.Flags().StringVar(&sqlDatabase, "database", "", "Database engine (postgres, mysql, sqlite)")
	scanSQLCmd.Flags().BoolVar(&sqlDestructive, "allow-destructive", false, "Permit DROP/TRUNCATE/DELETE without WHERE")
	scanFileCmd.Flags().StringVar(&fileContentPath, "content-file", "", "Read the content to be written from this file")
	scanFileCmd.Flags().StringVar(&fileContentValue, "content", "", "Content to be written")
}

var scanCmd = &cobra.Command{
	Use:   "scan [prompt|-]",
	Short: "Scan a prompt and print the verdict",
	Long:  "Scans a prompt (argument, or stdin when omitted or \"-\") and prints the sanitized verdict as JSON.\nExits 0 when safe, 2 when unsafe, 1 on error.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := argOrStdin(cmd, args)
		if err != nil {
			return err
		}
		return runScan(cmd, "cli.scan", prompt+scanContext, func(ctx context.Context, c *scan.Client) (verdict.Verdict, error) {
			return c.Scan(ctx, prompt, scanContext)
		})
	},
}

var scanSQLCmd = &cobra.Command{
	Use:   "scan-sql [query|-]",
	Short: "Scan a SQL query before executing it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := argOrStdin(cmd, args)
		if err != nil {
			return err
		}
		return runScan(cmd, "cli.scan_sql", query, func(ctx context.Context, c *scan.Client) (verdict.Verdict, error) {
			return c.ScanSQL(ctx, query, sqlDatabase, sqlDestructive)
		})
	},
}

var scanFileCmd = &cobra.Command{
	Use:   "scan-file <path>",
	Short: "Scan a file path and optional content before a write",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		content := fileContentValue
		if fileContentPath != "" {
			data, err := os.ReadFile(fileContentPath)
			if err != nil {
				return fmt.Errorf("read content file: %w", err)
			}
			content = string(data)
		}
		return runScan(cmd, "cli.scan_file", path+content, func(ctx context.Context, c *scan.Client) (verdict.Verdict, error) {
			return c.ScanFile(ctx, path, content)
		})
	},
}

func runScan(cmd *cobra.Command, binding, text string, fn func(context.Context, *scan.Client) (verdict.Verdict, error)) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger("promptguard-scan")
	hooks, closeHooks, err := observers(cfg, hash, log)
	if err != nil {
		return err
	}
	defer closeHooks()

	client, err := scan.New(cfg.APIKey, append(cfg.ScanOptions(), scan.WithLogger(log))...)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	v, err := fn(ctx, client)
	ev := guard.Event{Binding: binding, Chars: utf8.RuneCountInString(text), Verdict: v, Err: err, Duration: time.Since(start)}
	for _, h := range hooks {
		h(ctx, ev)
	}
	if err != nil {
		return err
	}
	return printVerdict(cmd.OutOrStdout(), v)
}

func printVerdict(w io.Writer, v verdict.Verdict) error {
	out, err := json.MarshalIndent(v.Map(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	if !v.Safe {
		return errUnsafe
	}
	return nil
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
