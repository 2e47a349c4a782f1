package colors

// Color is an ANSI SGR code.
type Color int

const (
	BLACK Color = iota + 30
	RED
	GREEN
	YELLOW
	BLUE
	MAGENTA
	CYAN
	WHITE
	// BOLD is the ANSI code for bold text
	BOLD Color = 1
	// DARK_GRAY is the ANSI code for dark gray
	DARK_GRAY Color = 90
)

// Glyphs used for console output.
const (
	// LEFT_ARROW prefixes info lines
	LEFT_ARROW = "⇾"
	// CHECK marks a passed proof
	CHECK = "✔"
	// CROSS marks a failed proof
	CROSS = "✘"
	// ELLIPSIS marks a pending proof
	ELLIPSIS = "…"
)
