package bytes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFmtMem renders the two leading units of a file size.
func TestFmtMem(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		expected string
	}{
		{"empty", 0, "0B"},
		{"negative", -5, "0B"},
		{"header only", 8, "8B"},
		{"kilobytes", 5 * 1024, "5KB 0B"},
		{"mixed KB", 1536, "1KB 512B"},
		{"mixed MB", 10*1024*1024 + 512*1024, "10MB 512KB"},
		{"mixed GB", 2*1024*1024*1024 + 100*1024*1024, "2GB 100MB"},
		{"terabytes", 1 << 40, "1TB 0GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, FmtMem(tt.size))
		})
	}
}
