// Package prober writes and runs the smoke-test script that proves the
// downloaded library imports and instantiates.
//
// The script is left on disk so it can be rerun by hand.
package prober
