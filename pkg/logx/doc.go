// Package logx is the logging layer: Logger wraps zerolog with typed Field
// helpers, and Service owns the sinks (console, rotated JSON file, operator
// chat) so a config reload can swap them without rebuilding loggers.
package logx
