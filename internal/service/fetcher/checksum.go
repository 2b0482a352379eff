package fetcher

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	// Ensure SHA512 is linked in for checksum calculation.
	_ "crypto/sha512"
)

// DefaultChecksumFunction hashes archives for the checksum setting.
const DefaultChecksumFunction = crypto.SHA512

var errHashUnavailable = errors.New("hash function unavailable")

// FileChecksum returns the DefaultChecksumFunction digest of the file at path.
func FileChecksum(path string) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, errHashUnavailable
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := DefaultChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// EncodedFileChecksum returns the file checksum in the base64 form the
// settings file expects.
func EncodedFileChecksum(path string) (string, error) {
	sum, err := FileChecksum(path)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sum), nil
}
