package utils

import "fmt"

// FormatSize renders a byte count for display, matching the listing format
// clients expect ("1.50 MB", "0 B").
func FormatSize(size int64) string {
	if size == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(size)
	for _, unit := range units {
		if value < 1024 {
			return fmt.Sprintf("%.2f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.2f PB", value)
}
