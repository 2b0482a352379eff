// Package installer installs the downloaded project's dependencies with the
// host package manager.
package installer
