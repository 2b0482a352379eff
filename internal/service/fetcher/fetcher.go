package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/repo-bootstrap/internal/logger"
)

var (
	// ErrFetch wraps every download failure.
	ErrFetch = errors.New("fetch archive")

	errEmptyURL      = errors.New("source URL is empty")
	errEmptyFilename = errors.New("archive filename is empty")
	errBadHTTPStatus = errors.New("unexpected http status")
	errBadChecksum   = errors.New("checksum is not valid base64")
)

// ArchiveFileMode is the permission of the downloaded archive.
const ArchiveFileMode os.FileMode = 0o644

// Options are inputs of a single download.
type Options struct {
	// URL is the archive location.
	URL string
	// WorkDir is where the archive is written; empty means the current directory.
	WorkDir string
	// Filename is the archive name inside WorkDir.
	Filename string
	// Checksum is an optional base64 SHA512 the body must match.
	Checksum string
	// Timeout bounds the whole request. Zero leaves it unbounded.
	Timeout time.Duration
	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
}

// Fetch downloads opts.URL to opts.Filename and returns the written path.
// Every failure wraps ErrFetch.
func Fetch(ctx context.Context, opts *Options) (string, error) {
	ctx = logger.WithName(ctx, "fetch")

	path, err := fetch(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}

	return path, nil
}

func fetch(ctx context.Context, opts *Options) (string, error) {
	if opts.URL == "" {
		return "", errEmptyURL
	}

	if opts.Filename == "" {
		return "", errEmptyFilename
	}

	var checksum []byte

	if opts.Checksum != "" {
		var err error

		checksum, err = base64.StdEncoding.DecodeString(opts.Checksum)
		if err != nil {
			return "", fmt.Errorf("%w: %w", errBadChecksum, err)
		}
	}

	response, err := get(ctx, opts)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	destination := filepath.Clean(filepath.Join(opts.WorkDir, opts.Filename))

	body := &countingReader{reader: response.Body}
	if err = apply(destination, body, checksum); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Archive downloaded",
		"path", destination,
		"bytes", body.count,
		"verified", checksum != nil)

	return destination, nil
}

// get issues the request and rejects anything but 200 OK.
func get(ctx context.Context, opts *Options) (*http.Response, error) {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, http.NoBody)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Downloading archive", "url", opts.URL)

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", opts.URL, response.Status, errBadHTTPStatus)
	}

	return response, nil
}

// apply writes body to destination through go-update, which swaps the target
// in place and therefore needs it to exist beforehand.
func apply(destination string, body io.Reader, checksum []byte) error {
	created := false

	if _, err := os.Stat(destination); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(destination)
		if createErr != nil {
			return createErr
		}

		_ = placeholder.Close()
		created = true
	}

	options := goupdate.Options{
		TargetPath: destination,
		TargetMode: ArchiveFileMode,
		Checksum:   checksum,
		Hash:       DefaultChecksumFunction,
	}

	err := goupdate.Apply(body, options)

	removeLeftovers(destination)

	if err != nil {
		if created {
			_ = os.Remove(destination)
		}

		return fmt.Errorf("write %s: %w", destination, err)
	}

	return nil
}

// removeLeftovers deletes the backup go-update keeps of the replaced file.
func removeLeftovers(destination string) {
	dir, name := filepath.Split(destination)

	for _, old := range []string{
		filepath.Join(dir, "."+name+".old"),
		filepath.Join(dir, "."+name+".new"),
		destination + ".old",
	} {
		if _, err := os.Stat(old); err == nil {
			_ = os.Remove(old)
		}
	}
}

type countingReader struct {
	reader io.Reader
	count  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.count += int64(n)

	return n, err
}
