package cli

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTerminalDetector(t *testing.T) {
	d := &DefaultTerminalDetector{}

	assert.False(t, d.IsTerminal(&bytes.Buffer{}), "buffers are never terminals")

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()
	assert.False(t, d.IsTerminal(w), "pipes are not terminals")
}

func TestIsInteractiveTerminalDefaultsDetector(t *testing.T) {
	c := NewCLI()
	c.terminalDetector = nil

	assert.False(t, c.isInteractiveTerminal(&bytes.Buffer{}))
	assert.IsType(t, &DefaultTerminalDetector{}, c.terminalDetector)

	c.terminalDetector = fakeTerminal{terminal: true}
	assert.True(t, c.isInteractiveTerminal(&bytes.Buffer{}))
}
