package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"waveform.click/internal/tracking"
	"waveform.click/internal/waveform"
)

// analyzeFlags are shared by every analyze subcommand
type analyzeFlags struct {
	days      int
	preset    string
	since     string
	assetID   string
	status    string
	sessionID string
	limit     int
	json      bool
}

func (f *analyzeFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().IntVar(&f.days, "days", 7, "Number of days to analyze (0 = all time)")
	cmd.Flags().StringVar(&f.preset, "preset", "", "Date preset (today, yesterday, week, last-week, month, last-month, all)")
	cmd.Flags().StringVar(&f.since, "since", "", "Natural language start time, e.g. \"3 hours ago\"")
	cmd.Flags().StringVar(&f.assetID, "asset", "", "Filter by asset ID")
	cmd.Flags().StringVar(&f.status, "status", "", "Filter by status (completed, failed, cancelled, hit, coalesced)")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "Filter by session ID")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "Maximum number of results to show")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output JSON")
}

func (f *analyzeFlags) filter() tracking.QueryFilter {
	return tracking.QueryFilter{
		Days:       f.days,
		DatePreset: f.preset,
		Since:      f.since,
		AssetID:    f.assetID,
		Status:     f.status,
		SessionID:  f.sessionID,
		Limit:      f.limit,
	}
}

// timeContext describes the filter's time window for headings
func (f *analyzeFlags) timeContext() string {
	switch {
	case f.preset != "":
		return f.preset
	case f.since != "":
		return "since " + f.since
	case f.days > 0:
		return fmt.Sprintf("last %d days", f.days)
	default:
		return "all time"
	}
}

// newAnalyzeCommand creates the analyze command with subcommands
func newAnalyzeCommand() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze extraction tracking data",
		Long:  "Analyze recorded extraction events to understand cache effectiveness and slow assets",
	}

	analyzeCmd.AddCommand(newAnalyzeSummaryCommand())
	analyzeCmd.AddCommand(newAnalyzeSlowestCommand())
	analyzeCmd.AddCommand(newAnalyzeAssetsCommand())
	return analyzeCmd
}

// trackingDatabase returns the open tracking database or ErrTrackingOff
func trackingDatabase(cmd *cobra.Command) (*CLI, error) {
	cli, err := cliFromCommand(cmd)
	if err != nil {
		return nil, err
	}
	if cli.trackingDB == nil {
		return nil, ErrTrackingOff
	}
	return cli, nil
}

func newAnalyzeSummaryCommand() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show extraction counts, hit rate and timings",
		Long: `Show how many waveform requests were served and how.

Examples:
  waveform analyze summary                  # Last 7 days
  waveform analyze summary --preset today   # Today only
  waveform analyze summary --since "2 hours ago"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Debug("running analyze summary command", "days", flags.days, "preset", flags.preset)
			cli, err := trackingDatabase(cmd)
			if err != nil {
				return err
			}

			summary, err := tracking.GetExtractionSummary(cli.trackingDB, flags.filter())
			if err != nil {
				return fmt.Errorf("failed to analyze extractions: %w", err)
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), summary, flags.timeContext())
			return nil
		},
	}
	flags.register(cmd, 0)
	return cmd
}

func printSummary(w io.Writer, s *tracking.ExtractionSummary, timeContext string) {
	fmt.Fprintf(w, "Extraction summary (%s):\n\n", timeContext)
	if s.Total == 0 {
		fmt.Fprintln(w, "No extraction events recorded.")
		return
	}

	fmt.Fprintf(w, "Requests:       %s\n", humanize.Comma(int64(s.Total)))
	fmt.Fprintf(w, "Unique assets:  %s\n", humanize.Comma(int64(s.UniqueAssets)))
	fmt.Fprintf(w, "Hit rate:       %.1f%%\n", s.HitRate*100)
	fmt.Fprintf(w, "Avg extraction: %s\n", s.AvgElapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Max extraction: %s\n\n", s.MaxElapsed.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, status := range []waveform.Status{
		waveform.StatusCompleted,
		waveform.StatusHit,
		waveform.StatusCoalesced,
		waveform.StatusFailed,
		waveform.StatusCancelled,
	} {
		fmt.Fprintf(tw, "  %s\t%s\n", status, humanize.Comma(int64(s.ByStatus[status])))
	}
	tw.Flush()
}

func newAnalyzeSlowestCommand() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "slowest",
		Short: "Show the slowest extractions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Debug("running analyze slowest command", "days", flags.days, "limit", flags.limit)
			cli, err := trackingDatabase(cmd)
			if err != nil {
				return err
			}

			records, err := tracking.GetSlowestExtractions(cli.trackingDB, flags.filter())
			if err != nil {
				return fmt.Errorf("failed to analyze extractions: %w", err)
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			printSlowest(cmd.OutOrStdout(), records, flags.timeContext())
			return nil
		},
	}
	flags.register(cmd, 20)
	return cmd
}

func printSlowest(w io.Writer, records []tracking.ExtractionRecord, timeContext string) {
	if len(records) == 0 {
		fmt.Fprintf(w, "No extractions found (%s).\n", timeContext)
		return
	}

	fmt.Fprintf(w, "Slowest extractions (%s):\n\n", timeContext)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ELAPSED\tSTATUS\tASSET\tRANGE\tWIDTH\tWHEN")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3fs+%.3fs\t%d\t%s\n",
			r.Elapsed.Round(time.Millisecond),
			r.Status,
			displayName(r.AssetName, r.AssetID),
			r.Start, r.Duration,
			r.Width,
			humanize.Time(r.Timestamp))
	}
	tw.Flush()
}

func newAnalyzeAssetsCommand() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Show per-asset request counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Debug("running analyze assets command", "days", flags.days, "limit", flags.limit)
			cli, err := trackingDatabase(cmd)
			if err != nil {
				return err
			}

			usage, err := tracking.GetAssetUsage(cli.trackingDB, flags.filter())
			if err != nil {
				return fmt.Errorf("failed to analyze assets: %w", err)
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), usage)
			}
			printAssetUsage(cmd.OutOrStdout(), usage, flags.timeContext())
			return nil
		},
	}
	flags.register(cmd, 20)
	return cmd
}

func printAssetUsage(w io.Writer, usage []tracking.AssetUsage, timeContext string) {
	if len(usage) == 0 {
		fmt.Fprintf(w, "No assets found (%s).\n", timeContext)
		return
	}

	fmt.Fprintf(w, "Assets by requests (%s):\n\n", timeContext)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tREQUESTS\tEXTRACTIONS\tHITS\tDECODE TIME\tLAST SEEN")
	for _, u := range usage {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			displayName(u.AssetName, u.AssetID),
			humanize.Comma(int64(u.Requests)),
			humanize.Comma(int64(u.Extractions)),
			humanize.Comma(int64(u.Hits)),
			u.TotalElapsed.Round(time.Millisecond),
			humanize.Time(u.LastSeen))
	}
	tw.Flush()
}

// displayName shortens long asset names from the left
func displayName(name, id string) string {
	if name == "" {
		name = id
	}
	if len(name) > 40 {
		return "..." + name[len(name)-37:]
	}
	return name
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
