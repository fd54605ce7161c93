package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/auth"
	"github.com/kalambet/socq/internal/config"
	"github.com/kalambet/socq/internal/conversation"
	"github.com/kalambet/socq/internal/extract"
	"github.com/kalambet/socq/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Long: `Ask a single question and print the answer with its references.

Examples:
  socq ask "How do we contain a phishing attack?"
  socq ask --top-k 5 "What is our ransomware escalation path?"
  socq ask --file alert.html "Which playbook applies to this alert?"
  socq ask --transport job --output yaml "Who approves a firewall change?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		topK, _ := cmd.Flags().GetInt("top-k")
		transport, _ := cmd.Flags().GetString("transport")
		output, _ := cmd.Flags().GetString("output")

		switch output {
		case outputText, outputJSON, outputYAML:
		default:
			return fmt.Errorf("unknown output format %q (want text, json or yaml)", output)
		}

		question := strings.Join(args, " ")
		if file != "" {
			text, err := extract.FromFile(file)
			if err != nil {
				return err
			}
			if question != "" {
				question += "\n\n" + text
			} else {
				question = text
			}
		}
		if strings.TrimSpace(question) == "" {
			return fmt.Errorf("a question or --file is required")
		}

		s, err := newSession(cmd.Context(), func(c *config.Config) {
			if topK > 0 {
				c.Remote.TopK = topK
			}
			if transport != "" {
				c.Remote.Transport = transport
			}
		})
		if err != nil {
			return err
		}
		defer s.Close()

		turn, err := s.conversation().SubmitText(cmd.Context(), question)
		if err != nil {
			return err
		}
		if err := writeTurn(cmd.OutOrStdout(), output, turn); err != nil {
			return err
		}
		if turn.Err != nil {
			return fmt.Errorf("query failed (%s)", conversation.Kind(turn.Err))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("file", "", "read the question from a file ("+strings.Join(extract.SupportedExtensions(), ", ")+")")
	askCmd.Flags().Int("top-k", 0, "number of contexts to retrieve (default remote.top_k)")
	askCmd.Flags().String("transport", "", "sync or job (default remote.transport)")
	askCmd.Flags().StringP("output", "o", outputText, "output format: text, json, yaml")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Type a question and press enter.

Commands:
  /refs      show the references of the last answer
  /topk N    change the number of contexts retrieved
  /quit      leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		return runChat(cmd, s.conversation())
	},
}

func runChat(cmd *cobra.Command, conv *conversation.Store) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 64<<10), 1<<20)
	out := cmd.OutOrStdout()

	for _, m := range conv.Messages() {
		writeMessage(out, m)
	}

	for {
		fmt.Fprint(out, bold.Sprint("> "))
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/refs":
			refs := conv.References()
			if len(refs) == 0 {
				gray.Fprintln(out, "no references")
			}
			writeReferences(out, refs)
			continue
		case strings.HasPrefix(line, "/topk"):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/topk")))
			if err != nil || n <= 0 {
				red.Fprintln(out, "usage: /topk N (N > 0)")
				continue
			}
			conv.SetTopK(n)
			gray.Fprintf(out, "top_k = %d\n", n)
			continue
		}

		conv.SetInput(line)
		if !conv.CanSubmit() {
			continue
		}
		gray.Fprintln(out, "thinking...")
		turn, err := conv.Submit(cmd.Context())
		if err != nil {
			red.Fprintln(out, err)
			continue
		}
		fmt.Fprintln(out)
		writeTurnText(out, turn)
		fmt.Fprintln(out)

		if cmd.Context().Err() != nil {
			return nil
		}
	}
}

// --- poll ---

var pollCmd = &cobra.Command{
	Use:   "poll <job-id>",
	Short: "Poll the result of a deferred job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		s, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		token, err := s.tokens.Token(cmd.Context())
		if err != nil {
			return fmt.Errorf("acquiring token: %s", conversation.Describe(err))
		}

		resp, err := s.poller().PollResult(cmd.Context(), args[0], token)
		if err != nil {
			return fmt.Errorf("polling job %s: %s", args[0], conversation.Describe(err))
		}

		turn := conversation.Turn{
			Reply: conversation.Message{
				Role: conversation.RoleAssistant,
				Text: resp.FinalAnswer,
				Time: time.Now().Format(conversation.TimeFormat),
			},
			References: conversation.MapReferences(resp.ContextsUsed),
			Latency:    resp.Latency,
		}
		return writeTurn(cmd.OutOrStdout(), output, turn)
	},
}

func init() {
	pollCmd.Flags().StringP("output", "o", outputText, "output format: text, json, yaml")
}

// --- whoami ---

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity behind a freshly acquired token",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		token, err := s.tokens.Token(cmd.Context())
		if err != nil {
			return fmt.Errorf("acquiring token: %s", conversation.Describe(err))
		}
		id, err := auth.ParseIdentity(token)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", bold.Sprint(id.DisplayName()))
		if id.Email != "" {
			fmt.Fprintf(out, "  email:   %s\n", id.Email)
		}
		if id.Subject != "" {
			fmt.Fprintf(out, "  subject: %s\n", id.Subject)
		}
		if !id.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "  expires: %s (in %s)\n", id.ExpiresAt.Local().Format(time.RFC3339), time.Until(id.ExpiresAt).Round(time.Second))
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, service health and query statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		printStatus("Service", "%s (%s)", cfg.Remote.BaseURL, cfg.Remote.Transport)
		client := &http.Client{Timeout: 5 * time.Second}
		if h, err := answer.CheckHealth(cmd.Context(), cfg.Remote.BaseURL, client); err != nil {
			printStatus("Health", "%s", red.Sprint(conversation.Describe(err)))
		} else {
			printStatus("Health", "%s (%d active, %d completed)", green.Sprint(h.Status), h.ActiveRequests, h.CompletedRequests)
		}

		printStatus("Auth mode", "%s", cfg.Auth.Mode)

		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
		if err != nil {
			printStatus("Local server", "stopped")
		} else {
			resp.Body.Close()
			printStatus("Local server", "running on port %d", cfg.Server.Port)
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			printStatus("Query log", "unavailable: %v", err)
		} else {
			defer store.Close()
			if stats, err := store.Stats(); err == nil {
				printStatus("Queries", "%d (%d failed, avg %.0f ms)", stats.Total, stats.Failures, stats.AvgLatencyMs)
				if !stats.LastAt.IsZero() {
					printStatus("Last query", "%s", stats.LastAt.Local().Format(time.RFC3339))
				}
			}
		}

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Store credentials in the secret store",
}

var tokenSetRefreshCmd = &cobra.Command{
	Use:   "set-refresh <refresh-token> [api-key]",
	Short: "Store a refresh token (and optionally the identity API key) and switch to refresh mode",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret("auth.refresh_token", args[0]); err != nil {
			return err
		}
		if len(args) == 2 {
			if err := config.SetSecret("auth.api_key", args[1]); err != nil {
				return err
			}
		}
		if err := config.SetKey("auth.mode", config.AuthModeRefresh); err != nil {
			return err
		}
		printSuccess("Refresh token stored")
		return nil
	},
}

var tokenSetStaticCmd = &cobra.Command{
	Use:   "set-static <token>",
	Short: "Store a bearer token and switch to static mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret("auth.token", args[0]); err != nil {
			return err
		}
		if err := config.SetKey("auth.mode", config.AuthModeStatic); err != nil {
			return err
		}
		printSuccess("Static token stored")
		return nil
	},
}

var tokenServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Print the bearer token of the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := config.ServerToken()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenSetRefreshCmd)
	tokenCmd.AddCommand(tokenSetStaticCmd)
	tokenCmd.AddCommand(tokenServerCmd)
}

// --- queries ---

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Inspect or purge the local query log",
}

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openQueryLog()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.RecentQueries(limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No queries recorded.")
			return nil
		}
		writeQueries(cmd.OutOrStdout(), records)
		return nil
	},
}

var queriesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete query records older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}

		store, err := openQueryLog()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PurgeQueries(time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		printSuccess("Deleted %d query records", n)
		return nil
	},
}

func init() {
	queriesListCmd.Flags().Int("limit", 20, "maximum number of queries to list")
	queriesPurgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete records older than this")
	queriesCmd.AddCommand(queriesListCmd)
	queriesCmd.AddCommand(queriesPurgeCmd)
}

func openQueryLog() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.DataDir)
}

func writeQueries(w io.Writer, records []storage.QueryRecord) {
	for _, q := range records {
		outcome := green.Sprint(q.Outcome)
		if q.Outcome != storage.OutcomeSuccess {
			outcome = red.Sprintf("%s/%s", q.Outcome, q.ErrorKind)
		}
		fmt.Fprintf(w, "%s  %s  %-4s k=%d  %6d ms  %s\n",
			cyan.Sprint(shortID(q.ID)),
			q.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			q.Transport,
			q.TopK,
			q.LatencyMs,
			outcome,
		)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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
		output, _ := cmd.Flags().GetString("output")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys := config.ShowAll(cfg)

		out := cmd.OutOrStdout()
		switch output {
		case outputJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(keys)
		case outputYAML:
			enc := yaml.NewEncoder(out)
			defer enc.Close()
			return enc.Encode(keys)
		case outputText:
			for _, k := range keys {
				fmt.Fprintf(out, "  %s = %s %s\n", bold.Sprint(k.Key), k.Value, gray.Sprintf("(%s)", k.EnvVar))
			}
			return nil
		default:
			return fmt.Errorf("unknown output format %q (want text, json or yaml)", output)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where configuration is stored",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
	},
}

func init() {
	configShowCmd.Flags().StringP("output", "o", outputText, "output format: text, json, yaml")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}
