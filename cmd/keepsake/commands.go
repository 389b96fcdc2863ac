package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/keepsake/internal/config"
	"github.com/kalambet/keepsake/internal/pipeline"
	"github.com/kalambet/keepsake/internal/storage"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process <memory-id>",
	Short: "Run the generation pipeline for one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.proc.Process(cmd.Context(), user, args[0])
		if err != nil {
			var pe *pipeline.Error
			if errors.As(err, &pe) {
				return fmt.Errorf("%s: %s", pe.Code, pe.Message)
			}
			return err
		}
		for _, w := range res.StatusWrites {
			printWarning("status write %s failed: %v", w.Op, w.Err)
		}

		printSuccess("Processed %s (%s)", args[0], res.Status)
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"title":         res.Title,
			"processedText": res.ProcessedText,
			"status":        string(res.Status),
			"generatedAt":   res.GeneratedAt.UTC().Format(timeLayout),
		})
	},
}

func init() {
	processCmd.Flags().String("user", "", "owner of the memory")
}

// --- cleanup ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Inspect and drain the media cleanup queue",
}

var cleanupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one cleanup batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.cleanup.ProcessBatch(cmd.Context())
		if err != nil {
			return err
		}
		if res.Processed == 0 {
			printSuccess("No items to process")
		} else {
			printSuccess("Processed %d items: %d succeeded, %d failed", res.Processed, res.Succeeded, res.Failed)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var cleanupEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a storage object for deletion",
	Long: `Queue a storage object for deletion.

Examples:
  keepsake cleanup enqueue --bucket media --path u1/photo.jpg
  keepsake cleanup enqueue --bucket media --path u1/clip.m4a --moment 6f1c...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, _ := cmd.Flags().GetString("bucket")
		path, _ := cmd.Flags().GetString("path")
		mediaURL, _ := cmd.Flags().GetString("url")
		moment, _ := cmd.Flags().GetString("moment")
		if bucket == "" || path == "" {
			return fmt.Errorf("--bucket and --path are required")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		item := storage.CleanupItem{
			ID:         uuid.NewString(),
			MediaURL:   mediaURL,
			BucketName: bucket,
			FilePath:   path,
		}
		if moment != "" {
			item.MomentID = &moment
		}
		if err := a.store.EnqueueCleanup(cmd.Context(), item); err != nil {
			return fmt.Errorf("enqueueing cleanup: %w", err)
		}

		printSuccess("Queued cleanup %s", item.ID)
		fmt.Fprintln(cmd.OutOrStdout(), item.ID)
		return nil
	},
}

var cleanupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cleanup queue items by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.store.ListCleanupItems(cmd.Context(), storage.CleanupStatus(status), limit)
		if err != nil {
			return fmt.Errorf("listing cleanup items: %w", err)
		}
		if len(items) == 0 {
			fmt.Fprintf(stderr, "No %s items.\n", status)
			return nil
		}

		out := cmd.OutOrStdout()
		for _, it := range items {
			line := fmt.Sprintf("%-36s  %s/%s  retries=%d", it.ID, it.BucketName, it.FilePath, it.RetryCount)
			if it.ErrorMessage != nil {
				line += "  error=" + *it.ErrorMessage
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	cleanupEnqueueCmd.Flags().String("bucket", "", "storage bucket name")
	cleanupEnqueueCmd.Flags().String("path", "", "object path inside the bucket")
	cleanupEnqueueCmd.Flags().String("url", "", "public media URL, for reference")
	cleanupEnqueueCmd.Flags().String("moment", "", "id of the moment the media belonged to")
	cleanupListCmd.Flags().String("status", string(storage.CleanupPending), "pending, processing, completed or failed")
	cleanupListCmd.Flags().Int("limit", 20, "maximum number of items to list")

	cleanupCmd.AddCommand(cleanupRunCmd)
	cleanupCmd.AddCommand(cleanupEnqueueCmd)
	cleanupCmd.AddCommand(cleanupListCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Create and inspect memories",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a new memory",
	Long: `Store a new memory for a user.

Examples:
  keepsake memory add --user u1 --type moment --text "so um we went to the lake"
  keepsake memory add --user u1 --type story --text "When I was seven..."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		typ, _ := cmd.Flags().GetString("type")
		text, _ := cmd.Flags().GetString("text")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mem := storage.Memory{
			ID:        uuid.NewString(),
			UserID:    user,
			Type:      storage.MemoryType(typ),
			InputText: text,
		}
		if err := a.store.CreateMemory(cmd.Context(), mem); err != nil {
			return fmt.Errorf("creating memory: %w", err)
		}

		printSuccess("Created %s %s", mem.Type, mem.ID)
		fmt.Fprintln(cmd.OutOrStdout(), mem.ID)
		return nil
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a memory and its processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mem, err := a.store.GetMemoryForOwner(cmd.Context(), args[0], user)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("memory %s not found", args[0])
		}
		if err != nil {
			return err
		}
		st, err := a.store.GetStatus(cmd.Context(), mem.ID)
		if err != nil {
			return fmt.Errorf("reading status: %w", err)
		}

		printStatus("ID", "%s", mem.ID)
		printStatus("Type", "%s", mem.Type)
		printStatus("Created", "%s", mem.CreatedAt.Format(time.RFC3339))
		printStatus("Title", "%s", deref(mem.Title, "(none)"))
		printStatus("State", "%s (attempts %d)", st.State, st.Attempts)
		if st.LastError != "" {
			printStatus("Last error", "%s", st.LastError)
		}
		for _, k := range slices.Sorted(maps.Keys(st.Metadata)) {
			printStatus("  "+k, "%s", st.Metadata[k])
		}
		fmt.Fprintln(cmd.OutOrStdout(), deref(mem.ProcessedText, mem.InputText))
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's memories, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mems, err := a.store.ListMemories(cmd.Context(), user, limit)
		if err != nil {
			return fmt.Errorf("listing memories: %w", err)
		}
		if len(mems) == 0 {
			fmt.Fprintln(stderr, "No memories.")
			return nil
		}
		out := cmd.OutOrStdout()
		for _, m := range mems {
			fmt.Fprintf(out, "%-36s  %-7s  %s  %s\n", m.ID, m.Type, m.CreatedAt.Format("2006-01-02 15:04"), deref(m.Title, "-"))
		}
		return nil
	},
}

func init() {
	memoryAddCmd.Flags().String("user", "", "owner of the memory")
	memoryAddCmd.Flags().String("type", string(storage.MemoryMoment), "moment, story or memento")
	memoryAddCmd.Flags().String("text", "", "transcript text")
	memoryShowCmd.Flags().String("user", "", "owner of the memory")
	memoryListCmd.Flags().String("user", "", "owner of the memories")
	memoryListCmd.Flags().Int("limit", 20, "maximum number of memories to list")

	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryListCmd)
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage user bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		token, err := a.store.IssueToken(cmd.Context(), user)
		if err != nil {
			return err
		}
		printWarning("The token is shown once; only its digest is stored")
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().String("user", "", "user the token authenticates as")
	tokenCmd.AddCommand(tokenIssueCmd)
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
