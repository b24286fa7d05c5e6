package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// TerminalDetector reports whether a writer is an interactive terminal
type TerminalDetector interface {
	IsTerminal(w io.Writer) bool
}

// DefaultTerminalDetector checks file descriptors with golang.org/x/term
type DefaultTerminalDetector struct{}

// IsTerminal is false for anything that is not an *os.File
func (d *DefaultTerminalDetector) IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	isTerminal := term.IsTerminal(int(f.Fd()))
	slog.Debug("terminal detection result", "fd", f.Fd(), "is_terminal", isTerminal)
	return isTerminal
}

func (c *CLI) isInteractiveTerminal(w io.Writer) bool {
	if c.terminalDetector == nil {
		c.terminalDetector = &DefaultTerminalDetector{}
	}
	return c.terminalDetector.IsTerminal(w)
}
