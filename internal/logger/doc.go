// Package logger carries a zap sugared logger through contexts.
//
// Components log through free functions (Info, WarnKV, ...) that pull the
// logger out of the context, picking up whatever name and fields the caller
// attached with WithName or WithKV. A process-wide atomic level lets
// LOG_LEVEL and the debug flag set verbosity at startup.
package logger
