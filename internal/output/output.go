// Package output renders the terminal status line.
package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultWidth = 80

// PrintRight prints text right aligned on the current terminal line.
func PrintRight(text string) {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width = defaultWidth
	}

	padding := max(width-len(text), 0)
	fmt.Printf("\r%s%s", strings.Repeat(" ", padding), text)
}

// ProgressBar renders percent, clamped to [0, 100], as a bar of width cells.
func ProgressBar(percent int, width int) string {
	percent = min(max(percent, 0), 100)
	filled := (percent * width) / 100

	return strings.Repeat("█", filled) + strings.Repeat(" ", width-filled)
}

// HumanBytes formats n with a binary unit suffix.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
