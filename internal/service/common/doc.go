// Package common holds helpers shared by several services.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
