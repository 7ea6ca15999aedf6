// Package logging provides structured logging for the FindSpot device agent.
//
// It wraps log/slog with the agent's default fields (service, version),
// level parsing from config, and a pre-config Default() logger for early
// startup. Components that want to log without importing this package can
// declare their own small Logger interface; *logging.Logger satisfies the
// usual Debug/Info/Warn/Error shape.
package logging
