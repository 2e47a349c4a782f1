package colors

// init enables ANSI coloring where the platform supports it. Windows consoles need to be queried first.
func init() {
	EnableColor()
}
