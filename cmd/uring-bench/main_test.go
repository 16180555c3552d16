//go:build linux

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"4K", 4096},
		{"4k", 4096},
		{"64M", 64 << 20},
		{"1G", 1 << 30},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseSize("12X")
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "100 B", formatSize(100))
	assert.Equal(t, "4.0 KB", formatSize(4096))
	assert.Equal(t, "1.5 MB", formatSize(3<<19))
	assert.Equal(t, "2.0 GB", formatSize(2<<30))
}

func TestBenchmarkOffsets(t *testing.T) {
	b := &benchmark{size: 4096, fileSize: 3 * 4096}

	assert.Equal(t, int64(0), b.offset(0))
	assert.Equal(t, int64(8192), b.offset(2))
	assert.Equal(t, int64(0), b.offset(3), "offsets wrap at the end of the region")
}
