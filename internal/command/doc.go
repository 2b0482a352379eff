// Package command runs external processes and reports how they ended.
//
// A process that starts and exits with a non-zero status is not an error: it
// is a Result with that exit code and the captured output, and the caller
// decides whether to continue. Run returns an error only when the process
// could not be started or was cancelled.
package command
