// Package fetcher downloads the project archive into the working directory.
//
// The body is applied with go-update, so an existing archive file is replaced
// atomically and an optional SHA512 checksum is verified before anything
// touches the destination.
package fetcher
