package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"waveform.click/internal/audio"
	"waveform.click/internal/config"
	wfs "waveform.click/internal/fs"
	"waveform.click/internal/media"
	"waveform.click/internal/mediatime"
	"waveform.click/internal/tracking"
	"waveform.click/internal/waveform"
)

const Version = "0.3.0"

// timeScale is the timescale for times given on the command line (milliseconds)
const timeScale int32 = 1000

var (
	ErrNoCLI          = errors.New("CLI instance not found in context")
	ErrTrackingOff    = errors.New("extraction tracking is not enabled or database is not available")
	ErrInvalidTime    = errors.New("invalid time")
	ErrInvalidChannel = errors.New("invalid channel range")
)

// CLI represents the command-line interface
type CLI struct {
	rootCmd          *cobra.Command
	configManager    *config.ConfigManager
	fs               afero.Fs // config, logs and rendered images
	assets           afero.Fs // read-only view of fs for media
	registry         *audio.DecoderRegistry
	terminalDetector TerminalDetector

	cfg        *config.Config
	logCloser  io.Closer
	trackingDB *sql.DB
	dbHook     *tracking.DBHook
}

// NewCLI creates a new CLI instance on the OS filesystem
func NewCLI() *CLI {
	return NewCLIWithFilesystem(wfs.NewDefaultFactory().Production())
}

// NewCLIWithFilesystem creates a CLI that does all file I/O through base
func NewCLIWithFilesystem(base afero.Fs) *CLI {
	slog.Debug("creating new CLI instance")

	factory := wfs.NewDefaultFactory()
	c := &CLI{
		configManager: config.NewConfigManagerWithFilesystem(base),
		fs:            base,
		assets:        factory.Assets(base),
		registry:      audio.NewDefaultRegistry(),
	}

	rootCmd := &cobra.Command{
		Use:          "waveform",
		Short:        "Waveform extraction and rendering",
		Long:         "waveform decodes audio files into per-pixel peak bands, caches them and renders waveform images.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.prepare(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if handled, err := handleVersionFlag(cmd); handled || err != nil {
				return err
			}
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newPeaksCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newAnalyzeCommand())

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-tracking", false, "Do not record extraction events")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	c.rootCmd = rootCmd
	return c
}

type cliContextKey struct{}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(cli *CLI) context.Context {
	return context.WithValue(context.Background(), cliContextKey{}, cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) *CLI {
	if cli, ok := ctx.Value(cliContextKey{}).(*CLI); ok {
		return cli
	}
	return nil
}

func cliFromCommand(cmd *cobra.Command) (*CLI, error) {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return nil, ErrNoCLI
	}
	return cli, nil
}

// handleVersionFlag checks and handles the version flag
// Returns true if version was handled and processing should stop
func handleVersionFlag(cmd *cobra.Command) (bool, error) {
	version, _ := cmd.Flags().GetBool("version")
	if version {
		printVersion(cmd.OutOrStdout())
		return true, nil
	}
	return false, nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "waveform version %s\n", Version)
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	// Version needs no config, logging or tracking
	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		printVersion(stdout)
		return 0
	}

	defer c.shutdown()

	if len(args) > 0 {
		args = args[1:]
	}
	c.rootCmd.SetArgs(args)
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)
	c.rootCmd.SetContext(contextWithCLI(c))

	if err := c.rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}

// prepare loads configuration, sets up logging and opens the tracking database
func (c *CLI) prepare(cmd *cobra.Command) error {
	cfg, err := loadAndValidateConfig(cmd, c)
	if err != nil {
		return err
	}
	c.cfg = cfg

	c.logCloser = setupLogging(c.configManager, cfg, cmd.ErrOrStderr())
	c.initializeTracking(cfg)
	return nil
}

func (c *CLI) shutdown() {
	if c.dbHook != nil {
		c.dbHook.Flush()
	}
	if c.trackingDB != nil {
		if err := c.trackingDB.Close(); err != nil {
			slog.Error("error closing tracking database", "error", err)
		}
		c.trackingDB = nil
		c.dbHook = nil
	}
	if c.logCloser != nil {
		if err := c.logCloser.Close(); err != nil {
			slog.Error("error closing log file", "error", err)
		}
		c.logCloser = nil
	}
}

// loadAndValidateConfig loads configuration from flags and files, applies overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	noTracking, _ := cmd.Flags().GetBool("no-tracking")

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config file not found, using defaults", "file", configFile, "error", err)
			cfg, err = cli.configManager.GetDefaultConfig(), nil
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if noTracking {
		if cfg.Tracking == nil {
			cfg.Tracking = config.GetDefaultTrackingConfig()
		}
		cfg.Tracking.Enabled = false
		slog.Debug("tracking disabled by flag")
	}

	if err := cli.configManager.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initializeTracking opens the tracking database if enabled. Failures
// only disable tracking.
func (c *CLI) initializeTracking(cfg *config.Config) {
	if c.trackingDB != nil {
		return
	}
	if cfg.Tracking == nil || !cfg.Tracking.Enabled {
		slog.Debug("extraction tracking disabled, skipping database initialization")
		return
	}

	dbPath := c.configManager.ResolveDatabasePath(cfg)
	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		slog.Error("failed to initialize tracking database, continuing without tracking",
			"path", dbPath, "error", err)
		return
	}

	c.trackingDB = db
	c.dbHook = tracking.NewDBHook(db, "")
	slog.Debug("tracking database initialized", "path", dbPath, "session_id", c.dbHook.SessionID())
}

// newCache builds a waveform cache from the configuration with the
// logging and tracking hooks attached
func (c *CLI) newCache(opts ...waveform.Option) *waveform.Cache {
	providers := []tracking.HookProvider{tracking.NewSlogHook(nil)}
	if c.dbHook != nil {
		providers = append(providers, c.dbHook)
	}

	all := []waveform.Option{
		waveform.WithMaxWorkers(c.cfg.Extraction.MaxWorkers),
		waveform.WithChannelSelector(c.cfg.Extraction.ChannelSelector()),
	}
	all = append(all, tracking.CacheOptions(providers...)...)
	all = append(all, opts...)
	return waveform.NewCache(c.registry, all...)
}

// openSource opens path as an asset and probes it. The returned cache is
// bound to the asset and reuses the probed source.
func (c *CLI) openSource(path string) (*media.SampleSource, *waveform.Cache, error) {
	asset, err := media.NewFileAsset(c.assets, path)
	if err != nil {
		return nil, nil, err
	}
	src, err := media.Open(asset, c.registry)
	if err != nil {
		return nil, nil, err
	}

	cache := c.newCache(waveform.WithSourceOpener(func(media.Asset) (waveform.SampleReader, error) {
		return src, nil
	}))
	cache.SetAsset(asset)
	return src, cache, nil
}

// parseTime accepts a Go duration ("1m30s", "250ms") or plain seconds ("1.5")
func parseTime(s string) (mediatime.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return mediatime.Zero, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return mediatime.Zero, fmt.Errorf("%w: %q is negative", ErrInvalidTime, s)
		}
		return mediatime.FromDuration(d), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return mediatime.Zero, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return mediatime.FromSeconds(v, timeScale), nil
}

// parseChannels accepts "a-b" or a single channel "a", both 0-based and inclusive
func parseChannels(s string) (media.ChannelSelector, error) {
	first, last, found := strings.Cut(strings.TrimSpace(s), "-")
	start, err := strconv.Atoi(first)
	if err != nil || start < 0 {
		return media.ChannelSelector{}, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	if !found {
		return media.Channels(start, start), nil
	}
	end, err := strconv.Atoi(last)
	if err != nil || end < 0 {
		return media.ChannelSelector{}, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	return media.Channels(start, end), nil
}

// timeWindow resolves --start and --duration against the source. An empty
// duration runs to the end of the asset.
func timeWindow(src *media.SampleSource, startFlag, durationFlag string) (mediatime.TimeRange, error) {
	start, err := parseTime(startFlag)
	if err != nil {
		return mediatime.TimeRange{}, err
	}

	if strings.TrimSpace(durationFlag) != "" {
		duration, err := parseTime(durationFlag)
		if err != nil {
			return mediatime.TimeRange{}, err
		}
		return mediatime.NewRange(start, duration), nil
	}

	if !src.DurationKnown() {
		return mediatime.TimeRange{}, fmt.Errorf("%w: --duration is required when the length of %s is unknown", ErrInvalidTime, src.Asset().Name())
	}
	total := src.NominalDuration()
	if !start.Before(total) {
		return mediatime.NewRange(start, mediatime.Zero), nil
	}
	return mediatime.NewRange(start, total.Sub(start)), nil
}
