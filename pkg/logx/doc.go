// Package logx configures pollkit's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File and JSON output structured
//   - Runtime level/sink changes via Service.Apply (config hot reload)
package logx
