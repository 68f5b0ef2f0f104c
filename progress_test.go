package main

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akorhonen/dropbox-go/internal/transfer"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 100))
	assert.Equal(t, 50, percent(50, 100))
	assert.Equal(t, 100, percent(100, 100))
	// Unknown total and overshoot stay in range.
	assert.Equal(t, 0, percent(10, 0))
	assert.Equal(t, 100, percent(150, 100))
}

func TestVerb(t *testing.T) {
	assert.Equal(t, "Uploading", verb(transfer.DirectionUpload))
	assert.Equal(t, "Downloading", verb(transfer.DirectionDownload))
}

func TestProgressPrinter_OverwritesLine(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "progress")
	require.NoError(t, err)

	defer f.Close()

	p := &progressPrinter{w: f}

	p.render("a long progress line")
	p.render("short")

	raw, err := os.ReadFile(f.Name())
	require.NoError(t, err)

	parts := strings.Split(string(raw), "\r")
	require.Len(t, parts, 3)

	// The second render pads with spaces so the longer first line is
	// fully overwritten after the carriage return.
	assert.Equal(t, "a long progress line", parts[1])
	assert.Equal(t, len(parts[1]), len(parts[2]))
	assert.Equal(t, "short", strings.TrimRight(parts[2], " "))
}

func TestProgressPrinter_NilOffTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notatty")
	require.NoError(t, err)

	defer f.Close()

	// A regular file is not a terminal, so no observer is built.
	assert.Nil(t, newProgressPrinter(f))
}
