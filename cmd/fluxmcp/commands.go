package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/fluxmcp/internal/config"
	"github.com/kalambet/fluxmcp/internal/job"
	"github.com/kalambet/fluxmcp/internal/orchestrator"
	"github.com/kalambet/fluxmcp/internal/poll"
	"github.com/kalambet/fluxmcp/internal/storage"
)

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an image from the command line",
	Long: `Generate an image from the command line.

Examples:
  fluxmcp generate --model base --prompt "a red cube"
  fluxmcp generate --model ultra --prompt "a lighthouse" --param aspect_ratio=21:9 --param raw=true
  fluxmcp generate --model pro --prompt "a cat" --no-wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		prompt, _ := cmd.Flags().GetString("prompt")
		rawParams, _ := cmd.Flags().GetStringArray("param")
		noWait, _ := cmd.Flags().GetBool("no-wait")

		if model == "" || prompt == "" {
			return fmt.Errorf("--model and --prompt are required (models: %s)", strings.Join(job.VariantNames(), ", "))
		}
		params, err := parseParams(rawParams)
		if err != nil {
			return err
		}
		params["prompt"] = prompt

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if !noWait {
			printStep("Submitting to %s and waiting for the result...", model)
		}
		out, err := a.orch.Generate(cmd.Context(), orchestrator.GenerateRequest{
			Model:  model,
			Params: params,
			Wait:   !noWait,
		})
		if errors.Is(err, poll.ErrTimeout) {
			printWarning("Request %s is still pending; check later with: fluxmcp status %s", out.ID, out.ID)
			return err
		}
		if err != nil {
			return err
		}

		printStatus("Request ID", "%s", out.ID)
		printStatus("Model", "%s", out.Variant)
		if noWait {
			printSuccess("Submitted. Check progress with: fluxmcp status %s", out.ID)
			return nil
		}
		printStatus("Image URL", "%s", out.ResultURL)
		fmt.Println(out.ResultURL)
		return nil
	},
}

func init() {
	generateCmd.Flags().String("model", "", "model variant or alias")
	generateCmd.Flags().String("prompt", "", "text prompt")
	generateCmd.Flags().StringArray("param", nil, "extra parameter as key=value (repeatable)")
	generateCmd.Flags().Bool("no-wait", false, "return after submission without polling")
}

// parseParams turns key=value pairs into typed values: integers, floats and
// booleans are recognised, everything else stays a string.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs)+1)
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", p)
		}
		switch {
		case isInt(v):
			n, _ := strconv.Atoi(v)
			out[k] = n
		case isFloat(v):
			f, _ := strconv.ParseFloat(v, 64)
			out[k] = f
		case v == "true" || v == "false":
			out[k] = v == "true"
		default:
			out[k] = v
		}
	}
	return out, nil
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil && strings.ContainsAny(s, ".eE")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show the current status of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		j, err := a.orch.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printJob(j)
		return nil
	},
}

func printJob(j job.Job) {
	printStatus("Request ID", "%s", j.ID)
	if j.Variant != "" {
		printStatus("Model", "%s", j.Variant)
	}
	printStatus("Status", "%s", colorize(statusColor(j.Status), string(j.Status)))
	if j.ResultURL != "" {
		printStatus("Image URL", "%s", j.ResultURL)
	}
	if j.ErrorDetail != "" {
		printStatus("Error", "%s", j.ErrorDetail)
	}
}

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download <request-id> [path]",
	Short: "Download a finished image",
	Long: `Download a finished image. The path may be a file or a directory;
directories receive <request-id>.<ext>. Defaults to the configured download directory.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := ""
		if len(args) == 2 {
			dest = args[1]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.Download(cmd.Context(), args[0], dest)
		if errors.Is(err, orchestrator.ErrNotReady) {
			printWarning("Request %s is not ready yet", args[0])
			return err
		}
		if err != nil {
			return err
		}
		printSuccess("Saved %s (%d bytes, %s)", res.Path, res.Bytes, res.ContentType)
		return nil
	},
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded requests from the local history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cmd.Context(), cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		var jobs []job.Job
		if status != "" {
			st, err := parseStatusFlag(status)
			if err != nil {
				return err
			}
			jobs, err = store.ListJobsByStatus(cmd.Context(), st, limit)
		} else {
			jobs, err = store.ListJobs(cmd.Context(), limit)
		}
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if jobs == nil {
				jobs = []job.Job{}
			}
			return enc.Encode(jobs)
		}
		if len(jobs) == 0 {
			printStatus("Jobs", "none recorded")
			return nil
		}
		printJobsTable(os.Stdout, jobs)
		return nil
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum number of requests to list (0 for all)")
	jobsCmd.Flags().String("status", "", "only list requests with this status")
	jobsCmd.Flags().Bool("json", false, "print as JSON")
}

func parseStatusFlag(s string) (job.Status, error) {
	for _, st := range []job.Status{job.StatusPending, job.StatusReady, job.StatusError} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid --status %q (want Pending, Ready or Error)", s)
}

func printJobsTable(w io.Writer, jobs []job.Job) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tSTATUS\tCREATED\tRESULT")
	for _, j := range jobs {
		result := j.ResultURL
		if j.Status == job.StatusError {
			result = j.ErrorDetail
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Variant, j.Status, j.CreatedAt.Local().Format(time.DateTime), result)
	}
	tw.Flush()
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
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secrets (provider.api_key, server.token) are stored in the\n" +
		"platform secret store, never in the config file.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if config.IsSecret(key) {
			printSuccess("Stored %s in the secret store", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
