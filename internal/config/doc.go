// Package config defines the bootstrap settings and helpers to read, validate
// and save them in YAML format.
//
// Every field has a default except the source URL, which has to come from the
// settings file or a command-line flag.
package config
