// Package logx configures streamcheck's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps
// console output readable (short timestamp + short caller) and the
// optional file sink JSON-structured. The zero Logger is a safe no-op,
// which is how components run with logging disabled.
package logx
