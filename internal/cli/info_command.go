package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"waveform.click/internal/mediatime"
)

// unknownLengthScan bounds the decode pass for assets that do not report their length
var unknownLengthScan = mediatime.FromDuration(24 * time.Hour)

// AssetInfo is printed by the info command
type AssetInfo struct {
	Path            string  `json:"path"`
	ID              string  `json:"id"`
	Format          string  `json:"format"`
	Size            int64   `json:"size_bytes"`
	Channels        int     `json:"channels"`
	SampleRate      int     `json:"sample_rate"`
	NominalDuration float64 `json:"nominal_duration_seconds,omitempty"`
	ActualDuration  float64 `json:"actual_duration_seconds"`
	DurationKnown   bool    `json:"duration_known"`
}

func newInfoCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Show format, channels and duration of an audio file",
		Long: `Show format, channels and duration of an audio file.

The actual duration comes from a full decode pass and may differ from the
duration reported in the file header.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromCommand(cmd)
			if err != nil {
				return err
			}
			info, err := cli.assetInfo(cmd, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			printAssetInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func (c *CLI) assetInfo(cmd *cobra.Command, path string) (*AssetInfo, error) {
	slog.Debug("reading asset info", "path", path)

	src, cache, err := c.openSource(path)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	info := &AssetInfo{
		Path:          path,
		ID:            src.Asset().ID(),
		Format:        src.Format(),
		Channels:      src.Channels(),
		SampleRate:    src.SampleRate(),
		DurationKnown: src.DurationKnown(),
	}
	if st, err := c.assets.Stat(path); err == nil {
		info.Size = st.Size()
	}

	scan := unknownLengthScan
	if src.DurationKnown() {
		info.NominalDuration = src.NominalDuration().Seconds()
		scan = src.NominalDuration()
	}

	// A one pixel read decodes the whole asset and settles its real length
	if err := cache.ReadTimeRange(cmd.Context(), mediatime.NewRange(mediatime.Zero, scan), 1); err != nil {
		return nil, err
	}
	info.ActualDuration = cache.ActualAssetDuration().Seconds()

	slog.Info("asset info read",
		"path", path,
		"format", info.Format,
		"channels", info.Channels,
		"actual_duration", info.ActualDuration)
	return info, nil
}

func printAssetInfo(w io.Writer, info *AssetInfo) {
	fmt.Fprintf(w, "File:        %s\n", info.Path)
	fmt.Fprintf(w, "Format:      %s\n", info.Format)
	fmt.Fprintf(w, "Size:        %s\n", humanize.Bytes(uint64(info.Size)))
	fmt.Fprintf(w, "Channels:    %d\n", info.Channels)
	fmt.Fprintf(w, "Sample rate: %s Hz\n", humanize.Comma(int64(info.SampleRate)))
	if info.DurationKnown {
		fmt.Fprintf(w, "Duration:    %.3fs (header)\n", info.NominalDuration)
	} else {
		fmt.Fprintln(w, "Duration:    unknown (header)")
	}
	fmt.Fprintf(w, "Decoded:     %.3fs\n", info.ActualDuration)
}
