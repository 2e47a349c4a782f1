package colors

import "fmt"

// ColorFunc is an alias type for a coloring function that accepts anything and returns a colorized string. Passing a
// ColorFunc to a Logger method switches the color of every argument after it.
type ColorFunc = func(s any) string

// Reset returns the input as a plain string and ends the current color context.
func Reset(s any) string {
	return fmt.Sprintf("%v", s)
}

func Red(s any) string { return Colorize(s, RED) }
func RedBold(s any) string { return Colorize(Colorize(s, RED), BOLD) }
func Green(s any) string { return Colorize(s, GREEN) }
func GreenBold(s any) string { return Colorize(Colorize(s, GREEN), BOLD) }
func Yellow(s any) string { return Colorize(s, YELLOW) }
func YellowBold(s any) string { return Colorize(Colorize(s, YELLOW), BOLD) }
func Blue(s any) string { return Colorize(s, BLUE) }
func BlueBold(s any) string { return Colorize(Colorize(s, BLUE), BOLD) }
func Cyan(s any) string { return Colorize(s, CYAN) }
func CyanBold(s any) string { return Colorize(Colorize(s, CYAN), BOLD) }
func Magenta(s any) string { return Colorize(s, MAGENTA) }
func Bold(s any) string { return Colorize(s, BOLD) }
func DarkGray(s any) string { return Colorize(s, DARK_GRAY) }
