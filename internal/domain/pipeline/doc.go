// Package pipeline holds the bootstrap run model: the stages, the phase
// state machine they drive, and the Report that records a run.
package pipeline
