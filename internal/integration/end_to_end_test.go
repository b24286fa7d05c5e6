package integration

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveform.click/internal/audiotest"
	"waveform.click/internal/cli"
	"waveform.click/internal/tracking"
	"waveform.click/internal/waveform"
)

// writeTone writes a two second stereo WAV with a loud impulse in the right
// channel at 1.5s
func writeTone(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tone.wav")
	wave := audiotest.Impulse(
		audiotest.PerChannel(audiotest.Sine(440, 0.3, 8000), audiotest.Constant(0.1)),
		12000, 1, 0.9)
	require.NoError(t, audiotest.WriteWAV(afero.NewOsFs(), path, 8000, 16, 2, 16000, wave))
	return path
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli.NewCLI().Run(append([]string{"waveform"}, args...), strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	return stdout.String(), stderr.String()
}

func TestEndToEndRenderAndTrack(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tracking", "extractions.db")
	t.Setenv("WAVEFORM_TRACKING", "true")
	t.Setenv("WAVEFORM_DB_PATH", dbPath)

	tone := writeTone(t, dir)
	out := filepath.Join(dir, "tone.png")

	runCLI(t, "render", tone, "-o", out, "--width", "200", "--height", "40")
	runCLI(t, "peaks", tone, "--width", "16", "--windows", "4", "--channels", "1")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 40, cfg.Height)

	db, err := tracking.NewDatabase(dbPath)
	require.NoError(t, err)
	defer db.Close()

	summary, err := tracking.GetExtractionSummary(db, tracking.QueryFilter{DatePreset: "today"})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total, "one render plus four peak windows")
	assert.Equal(t, 5, summary.ByStatus[waveform.StatusCompleted])
	assert.Equal(t, 1, summary.UniqueAssets)

	usage, err := tracking.GetAssetUsage(db, tracking.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, tone, usage[0].AssetName)
}

func TestEndToEndPeaksFindImpulse(t *testing.T) {
	dir := t.TempDir()
	tone := writeTone(t, dir)

	stdout, _ := runCLI(t, "peaks", tone, "--width", "4", "--channels", "1", "--no-tracking")

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "time\tch1", lines[1])
	assert.Equal(t, "1.500\t0.9000", lines[5], "impulse lands in the last column")
	assert.Equal(t, "0.000\t0.1000", lines[2])
}
