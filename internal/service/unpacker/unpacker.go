package unpacker

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/repo-bootstrap/internal/logger"
)

var (
	// ErrUnpack wraps every unpack failure.
	ErrUnpack = errors.New("unpack archive")
	// ErrProjectRootNotFound means no extracted directory matched the prefix.
	ErrProjectRootNotFound = errors.New("extracted project directory not found")

	errUnsafePath  = errors.New("archive entry escapes the working directory")
	errEmptyPrefix = errors.New("project prefix is empty")
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

// Options are inputs of a single unpack.
type Options struct {
	// ArchivePath is the zip file to extract. It is removed on success.
	ArchivePath string
	// WorkDir receives the project files; empty means the current directory.
	WorkDir string
	// Prefix selects the extracted top-level directory.
	Prefix string
}

// Unpack extracts the archive, hoists the project directory's children into
// WorkDir and removes the directory and the archive. Every failure wraps
// ErrUnpack.
func Unpack(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "unpack")

	if err := unpack(ctx, opts); err != nil {
		return fmt.Errorf("%w: %w", ErrUnpack, err)
	}

	return nil
}

func unpack(ctx context.Context, opts *Options) error {
	if opts.Prefix == "" {
		return errEmptyPrefix
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}

	extracted, err := Extract(opts.ArchivePath, workDir)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Archive extracted", "archive", opts.ArchivePath, "entries", extracted)

	root, err := FindProjectRoot(workDir, opts.Prefix)
	if err != nil {
		return err
	}

	moved, err := hoist(root, workDir)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Project files moved", "from", root, "entries", moved)

	if err = os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove %s: %w", root, err)
	}

	if err = os.Remove(opts.ArchivePath); err != nil {
		return fmt.Errorf("remove %s: %w", opts.ArchivePath, err)
	}

	logger.Debug(ctx, "Temporary files removed")

	return nil
}

// Extract writes every entry of the zip archive under dir and returns how many
// entries it wrote.
func Extract(archivePath, dir string) (int, error) {
	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", archivePath, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, entry := range reader.File {
		if err = extractEntry(entry, dir); err != nil {
			return 0, fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}

	return len(reader.File), nil
}

// extractEntry writes one entry. Symlink entries are written as regular files
// holding the link text, so no entry can redirect a later one.
func extractEntry(entry *zip.File, dir string) error {
	target, err := safeJoin(dir, entry.Name)
	if err != nil {
		return err
	}

	if err = resolvesWithin(dir, target); err != nil {
		return err
	}

	mode := entry.Mode()
	if mode.IsDir() {
		return os.MkdirAll(target, dirMode)
	}

	if err = os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return err
	}

	// A link already on disk at target would be followed by the write.
	if info, statErr := os.Lstat(target); statErr == nil && info.Mode()&os.ModeSymlink != 0 {
		if err = os.Remove(target); err != nil {
			return err
		}
	}

	source, err := entry.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	perm := mode.Perm()
	if perm == 0 || mode&os.ModeSymlink != 0 {
		perm = fileMode
	}

	output, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	//nolint:gosec // Archive size is bounded by what the configured source serves.
	if _, err = io.Copy(output, source); err != nil {
		_ = output.Close()

		return err
	}

	return output.Close()
}

// safeJoin resolves an archive entry name under dir, rejecting escapes.
func safeJoin(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", errUnsafePath
	}

	target := filepath.Join(dir, filepath.FromSlash(name))
	if !within(dir, target) {
		return "", errUnsafePath
	}

	return target, nil
}

// resolvesWithin follows links on disk from the deepest existing part of path
// and rejects it when that lands outside dir.
func resolvesWithin(dir, path string) error {
	realDir, err := realPath(dir)
	if err != nil {
		return err
	}

	for existing := path; ; {
		resolved, evalErr := realPath(existing)
		if evalErr == nil {
			if !within(realDir, resolved) {
				return errUnsafePath
			}

			return nil
		}

		parent := filepath.Dir(existing)
		if !errors.Is(evalErr, os.ErrNotExist) || parent == existing {
			return evalErr
		}

		existing = parent
	}
}

func realPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}

	return filepath.Abs(resolved)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FindProjectRoot returns the first directory in dir whose name starts with
// prefix. Entries are visited in lexical order.
func FindProjectRoot(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("%w: prefix %q in %s", ErrProjectRootNotFound, prefix, dir)
}

// hoist moves every child of root into dir. Colliding regular files are
// replaced; a colliding non-empty directory fails the move.
func hoist(root, dir string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		from := filepath.Join(root, entry.Name())
		to := filepath.Join(dir, entry.Name())

		if err = os.Rename(from, to); err != nil {
			return 0, fmt.Errorf("move %s: %w", entry.Name(), err)
		}
	}

	return len(entries), nil
}
