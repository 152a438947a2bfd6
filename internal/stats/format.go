package stats

import (
	"fmt"
	"strconv"
)

// FormatSize renders the average repository size. GitHub reports sizes in KB.
func FormatSize(totalKB int, repoCount int) string {
	if repoCount == 0 {
		return "0 KB"
	}

	avg := float64(totalKB) / float64(repoCount)

	switch {
	case avg < 1_000:
		return strconv.FormatFloat(avg, 'f', -1, 64) + " KB"
	case avg < 1_000_000:
		return fmt.Sprintf("%.3f MB", avg/1_000)
	default:
		return fmt.Sprintf("%.3f GB", avg/1_000_000)
	}
}
