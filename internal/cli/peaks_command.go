package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"waveform.click/internal/mediatime"
	"waveform.click/internal/waveform"
)

// PeakWindow is the peak data of one time window
type PeakWindow struct {
	Start        float64           `json:"start_seconds"`
	Duration     float64           `json:"duration_seconds"`
	TimePerPixel float64           `json:"time_per_pixel_seconds"`
	Width        int               `json:"width"`
	Channels     map[int][]float32 `json:"channels"`
	Timestamps   []float64         `json:"timestamps_seconds"`
}

type peaksFlags struct {
	start       string
	duration    string
	width       int
	channels    string
	maxChannels int
	windows     int
	json        bool
}

func newPeaksCommand() *cobra.Command {
	var flags peaksFlags
	cmd := &cobra.Command{
		Use:   "peaks <file>",
		Short: "Print per-pixel peak amplitudes",
		Long: `Print per-pixel peak amplitudes of an audio file.

Times are plain seconds ("1.5") or Go durations ("1m30s"). Channels are
0-based and inclusive ("0-1"). With --windows the range is split into
consecutive windows that are extracted concurrently.

Examples:
  waveform peaks song.wav --width 80
  waveform peaks song.wav --start 30 --duration 5s --channels 1
  waveform peaks song.wav --windows 4 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromCommand(cmd)
			if err != nil {
				return err
			}
			windows, err := cli.peaks(cmd, args[0], flags)
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), windows)
			}
			printPeaks(cmd.OutOrStdout(), windows)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.start, "start", "0", "Start time")
	cmd.Flags().StringVar(&flags.duration, "duration", "", "Duration (default: to the end of the file)")
	cmd.Flags().IntVar(&flags.width, "width", 100, "Pixels per window")
	cmd.Flags().StringVar(&flags.channels, "channels", "", "Channel range, e.g. 0-1")
	cmd.Flags().IntVar(&flags.maxChannels, "max-channels", 0, "Use only the first N channels")
	cmd.Flags().IntVar(&flags.windows, "windows", 1, "Number of consecutive windows")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Output JSON")
	return cmd
}

func (c *CLI) peaks(cmd *cobra.Command, path string, flags peaksFlags) ([]PeakWindow, error) {
	slog.Debug("extracting peaks", "path", path, "width", flags.width, "windows", flags.windows)

	src, cache, err := c.openSource(path)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	if flags.channels != "" {
		sel, err := parseChannels(flags.channels)
		if err != nil {
			return nil, err
		}
		cache.SetChannelSelector(sel)
	}
	if flags.maxChannels > 0 {
		cache.SetMaxChannels(flags.maxChannels)
	}

	whole, err := timeWindow(src, flags.start, flags.duration)
	if err != nil {
		return nil, err
	}
	ranges := splitRange(whole, flags.windows)
	width := waveform.NormalizeWidth(flags.width)

	if err := cache.Prefetch(cmd.Context(), ranges, width); err != nil {
		return nil, err
	}

	windows := make([]PeakWindow, 0, len(ranges))
	for _, r := range ranges {
		w := PeakWindow{
			Start:      r.Start.Seconds(),
			Duration:   r.Duration.Seconds(),
			Width:      width,
			Channels:   make(map[int][]float32),
			Timestamps: make([]float64, width),
		}
		err := cache.ReadRange(r, width, waveform.AllPixels(width), func(ch, x int, amp float32, ts mediatime.Time) {
			if w.Channels[ch] == nil {
				w.Channels[ch] = make([]float32, width)
			}
			w.Channels[ch][x] = amp
			w.Timestamps[x] = ts.Seconds()
		})
		if err != nil {
			return nil, err
		}
		w.TimePerPixel = cache.TimePerPixel().Seconds()
		windows = append(windows, w)
	}

	stats := cache.Stats()
	slog.Info("peaks extracted",
		"path", path,
		"windows", len(windows),
		"extractions", stats.Extractions,
		"hits", stats.Hits)
	return windows, nil
}

// splitRange divides r into n consecutive ranges of equal duration
func splitRange(r mediatime.TimeRange, n int) []mediatime.TimeRange {
	if n < 1 {
		n = 1
	}
	step := r.Duration.Div(n)
	ranges := make([]mediatime.TimeRange, n)
	for i := range ranges {
		ranges[i] = mediatime.NewRange(r.Start.Add(step.MulFrac(int64(i), 1)), step)
	}
	return ranges
}

func printPeaks(w io.Writer, windows []PeakWindow) {
	for i, win := range windows {
		if i > 0 {
			fmt.Fprintln(w)
		}
		channels := make([]int, 0, len(win.Channels))
		for ch := range win.Channels {
			channels = append(channels, ch)
		}
		sort.Ints(channels)

		fmt.Fprintf(w, "# %.3fs+%.3fs width=%d time_per_pixel=%.6fs\n", win.Start, win.Duration, win.Width, win.TimePerPixel)
		header := []string{"time"}
		for _, ch := range channels {
			header = append(header, "ch"+strconv.Itoa(ch))
		}
		fmt.Fprintln(w, strings.Join(header, "\t"))

		for x := 0; x < win.Width; x++ {
			row := []string{strconv.FormatFloat(win.Timestamps[x], 'f', 3, 64)}
			for _, ch := range channels {
				row = append(row, strconv.FormatFloat(float64(win.Channels[ch][x]), 'f', 4, 32))
			}
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	}
}
