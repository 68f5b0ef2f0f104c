package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akorhonen/dropbox-go/internal/dropbox"
)

func TestNormalizeRemotePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"photos", "/photos"},
		{"/photos", "/photos"},
		{"/photos/", "/photos"},
		{"photos/2024", "/photos/2024"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeRemotePath(tt.in))
		})
	}
}

func TestLsFilter(t *testing.T) {
	cmd := newLsCmd()
	require.NoError(t, cmd.Flags().Set("type", "image"))
	require.NoError(t, cmd.Flags().Set("recursive", "true"))
	require.NoError(t, cmd.Flags().Set("min-size", "1M"))
	require.NoError(t, cmd.Flags().Set("max-size", "2G"))

	filter, err := lsFilter(cmd)
	require.NoError(t, err)

	assert.Equal(t, dropbox.KindImage, filter.Kind)
	assert.True(t, filter.Recursive)
	assert.Equal(t, int64(1024*1024), filter.MinSize)
	assert.Equal(t, int64(2*1024*1024*1024), filter.MaxSize)
}

func TestLsFilter_Defaults(t *testing.T) {
	filter, err := lsFilter(newLsCmd())
	require.NoError(t, err)

	assert.Equal(t, dropbox.KindAll, filter.Kind)
	assert.False(t, filter.Recursive)
	assert.Zero(t, filter.MinSize)
	assert.Zero(t, filter.MaxSize)
}

func TestLsFilter_BadInputs(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		cmd := newLsCmd()
		require.NoError(t, cmd.Flags().Set("type", "spreadsheet"))

		_, err := lsFilter(cmd)
		assert.Error(t, err)
	})

	t.Run("bad min size", func(t *testing.T) {
		cmd := newLsCmd()
		require.NoError(t, cmd.Flags().Set("min-size", "lots"))

		_, err := lsFilter(cmd)
		assert.Error(t, err)
	})
}
