// Package logging provides structured logging for the Voltson proxy.
//
// It wraps the standard library's log/slog with configuration-driven
// format and level selection plus default service fields. Components take
// a child logger via With so every record carries its component name.
package logging
