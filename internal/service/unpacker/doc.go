// Package unpacker extracts the project archive and flattens it into the
// working directory.
//
// Source archives wrap everything in one top-level directory named after the
// project and branch. Unpack finds that directory by prefix, moves its
// children up one level, then removes the directory and the archive.
package unpacker
