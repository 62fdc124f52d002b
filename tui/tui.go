// Package tui renders the interactive parts of aelogin. Everything degrades
// to plain output without a terminal.
package tui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	// Out receives every message.
	Out io.Writer = os.Stdout
)
