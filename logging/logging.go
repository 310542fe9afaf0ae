package logging

import "log/slog"

var globalLevel = &slog.LevelVar{}

// SetLevel sets the minimum level for TextHandler output and for the default
// slog handler.
func SetLevel(level slog.Level) {
	globalLevel.Set(level)
	slog.SetLogLoggerLevel(level)
}
