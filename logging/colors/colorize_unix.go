//go:build !windows

package colors

import "fmt"

// enabled reports whether ANSI escape codes are emitted. Unix terminals support them unless coloring is turned off
// with DisableColor.
var enabled = true

// EnableColor turns ANSI coloring back on for unix systems.
func EnableColor() {
	enabled = true
}

// DisableColor turns ANSI coloring off. Colorize then returns its input unchanged.
func DisableColor() {
	enabled = false
}

// Colorize returns the string s wrapped in ANSI code c, or s unchanged when coloring is disabled.
func Colorize(s any, c Color) string {
	if !enabled {
		return fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
