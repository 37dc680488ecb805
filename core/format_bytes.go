package core

import "fmt"

// Binary byte units.
const (
	BytesPerKB int64 = 1024
	BytesPerMB       = 1024 * BytesPerKB
	BytesPerGB       = 1024 * BytesPerMB
	BytesPerTB       = 1024 * BytesPerGB
)

// FormatBytes renders n with two decimals in the largest unit that keeps
// the value at least 1, e.g. "1.50 KB". Negative counts render as "0 B".
func FormatBytes(n int64) string {
	switch {
	case n < 0:
		return "0 B"
	case n >= BytesPerTB:
		return fmt.Sprintf("%.2f TB", float64(n)/float64(BytesPerTB))
	case n >= BytesPerGB:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(BytesPerGB))
	case n >= BytesPerMB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(BytesPerMB))
	case n >= BytesPerKB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(BytesPerKB))
	}
	return fmt.Sprintf("%d B", n)
}
