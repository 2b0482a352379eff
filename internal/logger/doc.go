// Package logger wraps zap with a console encoder and context-scoped loggers.
//
// Every pipeline stage receives a context and pulls its logger from it, so a
// stage name or run ID attached once with WithName or WithKV shows up on
// every line that stage writes.
package logger
