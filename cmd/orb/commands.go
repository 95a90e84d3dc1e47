package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/orb/internal/api"
	"github.com/kalambet/orb/internal/config"
	"github.com/kalambet/orb/internal/ingest"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, os.Stdout, strings.Join(args, " "))
	},
}

func runAsk(ctx context.Context, client *apiClient, w io.Writer, question string) error {
	resp, err := client.post(ctx, "/chat", api.ChatRequest{Message: question})
	if err != nil {
		return err
	}
	var result api.ChatResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	fmt.Fprintln(w, result.Reply)
	return nil
}

// --- thought ---

var thoughtCmd = &cobra.Command{
	Use:   "thought <text>",
	Short: "Log a thought to the journal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runThought(cmd.Context(), client, strings.Join(args, " "))
	},
}

func runThought(ctx context.Context, client *apiClient, text string) error {
	resp, err := client.post(ctx, "/thoughts", api.ThoughtRequest{Content: text})
	if err != nil {
		return err
	}
	var result api.ThoughtResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	if ingest.IsError(result.Status) {
		return fmt.Errorf("%s", strings.TrimPrefix(result.Status, "Error: "))
	}
	printSuccess("%s", result.Status)
	return nil
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Queue a PDF, DOCX, TXT or MD file for ingestion",
	Long: `Queue a file for ingestion by the running server.

Examples:
  orb ingest ./reading/paper.pdf
  orb ingest --diary ./scans/2024-03-01.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		diary, _ := cmd.Flags().GetBool("diary")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runIngest(cmd.Context(), client, args[0], diary)
	},
}

func init() {
	ingestCmd.Flags().Bool("diary", false, "store the file as a diary entry in the journal")
}

func runIngest(ctx context.Context, client *apiClient, path string, diary bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	kind := ingest.KindFile
	if diary {
		kind = ingest.KindDiary
	}

	resp, err := client.post(ctx, "/files", api.FileRequest{Path: abs, Kind: kind})
	if err != nil {
		return err
	}
	var result api.FileResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Queued %s as job %s", filepath.Base(abs), result.JobID)
	return nil
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent agent attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runLogs(cmd.Context(), client, os.Stdout, limit)
	},
}

func runLogs(ctx context.Context, client *apiClient, w io.Writer, limit int) error {
	var logs []api.QueryLogView
	if err := getList(ctx, client, "/query-logs", limit, &logs); err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Fprintln(w, "No query logs found.")
		return nil
	}
	for _, l := range logs {
		outcome := colorize(colorGreen, "ok")
		if l.AIResponse == "FAILED" {
			outcome = colorize(colorRed, "failed")
		}
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			colorize(colorCyan, fmt.Sprintf("#%d", l.ID)),
			l.CreatedAt.Format("2006-01-02 15:04:05"),
			outcome,
			truncate(l.UserQuery, 60),
		)
		fmt.Fprintf(w, "    plan: %s\n", string(l.AgentPlan))
	}
	return nil
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List recent chat turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runInteractions(cmd.Context(), client, os.Stdout, limit)
	},
}

func runInteractions(ctx context.Context, client *apiClient, w io.Writer, limit int) error {
	var rows []api.InteractionView
	if err := getList(ctx, client, "/interactions", limit, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No interactions found.")
		return nil
	}
	for _, ix := range rows {
		fmt.Fprintf(w, "%s  %-11s  %s\n",
			ix.CreatedAt.Format("2006-01-02 15:04:05"),
			colorize(colorCyan, ix.Category),
			truncate(ix.Content, 80),
		)
	}
	return nil
}

// --- journal ---

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recent journal entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runJournal(cmd.Context(), client, os.Stdout, limit, asJSON)
	},
}

func runJournal(ctx context.Context, client *apiClient, w io.Writer, limit int, asJSON bool) error {
	var entries []api.JournalView
	if err := getList(ctx, client, "/journal", limit, &entries); err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No journal entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, e.CreatedAt.Format("2006-01-02 15:04")), truncate(e.Content, 100))
	}
	return nil
}

func init() {
	logsCmd.Flags().Int("limit", 10, "maximum number of attempts to list")
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	journalCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	journalCmd.Flags().Bool("json", false, "print entries as JSON")
}

func getList(ctx context.Context, client *apiClient, path string, limit int, v any) error {
	resp, err := client.get(ctx, fmt.Sprintf("%s?limit=%d", path, limit))
	if err != nil {
		return err
	}
	return decodeJSON(resp, v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
