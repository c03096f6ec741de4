// Package bytes formats the sizes of cache files for logs and the CLI.
package bytes

import "fmt"

const (
	kib = int64(1) << 10
	mib = kib << 10
	gib = mib << 10
	tib = gib << 10
)

// FmtMem renders a file size with its two most significant binary units, e.g. "10MB 512KB".
// Negative sizes are reported as zero.
func FmtMem(n int64) string {
	if n < 0 {
		n = 0
	}
	for _, u := range []struct {
		size       int64
		name, next string
	}{
		{tib, "TB", "GB"},
		{gib, "GB", "MB"},
		{mib, "MB", "KB"},
		{kib, "KB", "B"},
	} {
		if n >= u.size {
			return fmt.Sprintf("%d%s %d%s", n/u.size, u.name, n%u.size/(u.size>>10), u.next)
		}
	}
	return fmt.Sprintf("%dB", n)
}
