// Package marker guards a working directory against two bootstrap runs at
// once with a marker file naming the owning process.
//
// A marker left by a process that no longer runs, or whose PID now belongs to
// another executable, is treated as stale and replaced.
package marker
