package cli

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"waveform.click/internal/render"
)

var ErrTerminalOutput = errors.New("refusing to write PNG data to a terminal, use --output")

type renderFlags struct {
	output         string
	width          int
	height         int
	start          string
	duration       string
	progress       string
	precision      float64
	lineWidthRatio float64
	padding        int
	normalColor    string
	progressColor  string
	background     string
}

func newRenderCommand() *cobra.Command {
	var flags renderFlags
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a waveform PNG",
		Long: `Render a waveform PNG of an audio file.

Unset flags fall back to the render section of the config file. Without
--output the PNG is written to stdout, which must not be a terminal.

Examples:
  waveform render song.wav -o song.png
  waveform render song.wav --width 600 --height 80 --progress 42s -o seek.png
  waveform render song.wav --precision 0.25 --line-width-ratio 0.5 > bars.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromCommand(cmd)
			if err != nil {
				return err
			}
			return cli.render(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output PNG path")
	cmd.Flags().IntVar(&flags.width, "width", 0, "Image width in pixels")
	cmd.Flags().IntVar(&flags.height, "height", 0, "Image height in pixels")
	cmd.Flags().StringVar(&flags.start, "start", "0", "Start time")
	cmd.Flags().StringVar(&flags.duration, "duration", "", "Duration (default: to the end of the file)")
	cmd.Flags().StringVar(&flags.progress, "progress", "", "Playback position drawn in the progress color")
	cmd.Flags().Float64Var(&flags.precision, "precision", 0, "Bar density in (0, 1]")
	cmd.Flags().Float64Var(&flags.lineWidthRatio, "line-width-ratio", 0, "Bar width relative to bar spacing")
	cmd.Flags().IntVar(&flags.padding, "padding", 0, "Blank pixels above and below each channel")
	cmd.Flags().StringVar(&flags.normalColor, "color", "", "Bar color (#rrggbb)")
	cmd.Flags().StringVar(&flags.progressColor, "progress-color", "", "Played bar color (#rrggbb)")
	cmd.Flags().StringVar(&flags.background, "background", "", "Background color (#rrggbb or #rrggbbaa)")
	return cmd
}

// renderOptions layers changed flags over the configured render options
func (c *CLI) renderOptions(cmd *cobra.Command, flags renderFlags) (render.Options, int, error) {
	opts, err := c.cfg.Render.Options()
	if err != nil {
		return render.Options{}, 0, err
	}
	width := c.cfg.Render.Width

	changed := cmd.Flags().Changed
	if changed("width") {
		width = flags.width
	}
	if changed("height") {
		opts.Height = flags.height
	}
	if changed("precision") {
		opts.Precision = flags.precision
	}
	if changed("line-width-ratio") {
		opts.LineWidthRatio = flags.lineWidthRatio
	}
	if changed("padding") {
		opts.Padding = flags.padding
	}
	if changed("progress") {
		progress, err := parseTime(flags.progress)
		if err != nil {
			return render.Options{}, 0, err
		}
		opts.ProgressTime = progress
	}

	for _, cf := range []struct {
		flag  string
		value string
		dst   *color.Color
	}{
		{"color", flags.normalColor, &opts.NormalColor},
		{"progress-color", flags.progressColor, &opts.ProgressColor},
		{"background", flags.background, &opts.Background},
	} {
		if !changed(cf.flag) {
			continue
		}
		col, err := render.ParseHexColor(cf.value)
		if err != nil {
			return render.Options{}, 0, err
		}
		*cf.dst = col
	}

	if width < 1 {
		return render.Options{}, 0, fmt.Errorf("%w: width must be positive, got %d", render.ErrInvalidOptions, width)
	}
	return opts, width, opts.Validate()
}

func (c *CLI) render(cmd *cobra.Command, path string, flags renderFlags) error {
	slog.Debug("rendering waveform", "path", path, "output", flags.output)

	out := cmd.OutOrStdout()
	if flags.output == "" && c.isInteractiveTerminal(out) {
		return ErrTerminalOutput
	}

	opts, width, err := c.renderOptions(cmd, flags)
	if err != nil {
		return err
	}
	renderer, err := render.NewRenderer(opts)
	if err != nil {
		return err
	}

	src, cache, err := c.openSource(path)
	if err != nil {
		return err
	}
	defer cache.Close()

	tr, err := timeWindow(src, flags.start, flags.duration)
	if err != nil {
		return err
	}
	if err := cache.ReadTimeRange(cmd.Context(), tr, width); err != nil {
		return err
	}

	img, err := renderer.Render(cache, tr, width)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		return err
	}

	if flags.output == "" {
		_, err := out.Write(buf.Bytes())
		return err
	}
	if err := afero.WriteFile(c.fs, flags.output, buf.Bytes(), 0644); err != nil {
		slog.Error("failed to write PNG", "path", flags.output, "error", err)
		return fmt.Errorf("failed to write %s: %w", flags.output, err)
	}

	slog.Info("waveform rendered",
		"path", path,
		"output", flags.output,
		"width", width,
		"height", opts.Height,
		"size", humanize.Bytes(uint64(buf.Len())))
	return nil
}
