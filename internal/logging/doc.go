// Package logging writes the JSON slog stream shared by all amanidx
// processes to a rotating file and reads it back for `amanidx logs`.
// Nothing is logged to stdout: the TUI owns the terminal and serve owns
// the protocol stream.
package logging
