// Package logger wraps zap for the build pipeline:
//   - a console logger with colored levels and ISO8601 timestamps,
//   - context helpers (ToContext/FromContext/WithName/WithKV) so every
//     component logs through the logger it was handed,
//   - level helpers driven by the build configuration's debug flag.
//
// A logger is created once per run and travels in the context; the package
// level logger is only a fallback for code running before configuration is
// loaded.
package logger
