package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/repo-bootstrap/internal/logger"
)

// Filename is the marker created in the working directory.
const Filename = ".repo-bootstrap.lock"

// ErrWorkspaceBusy means a live process owns the marker.
var ErrWorkspaceBusy = errors.New("another bootstrap is running in this directory")

// FileMarker is a PID marker file in one directory.
type FileMarker struct {
	path       string
	pid        int
	executable string
	// findProcess looks a PID up; nil process means it is gone.
	findProcess func(pid int) (ps.Process, error)
}

// New returns a marker for dir.
func New(dir string) *FileMarker {
	executable, _ := os.Executable()

	return &FileMarker{
		path:        filepath.Join(dir, Filename),
		pid:         os.Getpid(),
		executable:  filepath.Base(executable),
		findProcess: ps.FindProcess,
	}
}

// Path returns the marker location.
func (m *FileMarker) Path() string {
	return m.path
}

// Acquire creates the marker. A marker left by a process that no longer runs
// is removed first.
func (m *FileMarker) Acquire(ctx context.Context) error {
	owner, err := m.owner()

	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	case owner.pid != m.pid && m.isAlive(owner):
		return fmt.Errorf("%w: pid %d", ErrWorkspaceBusy, owner.pid)
	default:
		logger.InfoKV(ctx, "Removing stale marker", "path", m.path, "pid", owner.pid)

		if err = os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale marker: %w", err)
		}
	}

	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrWorkspaceBusy
		}

		return fmt.Errorf("create marker: %w", err)
	}

	_, err = fmt.Fprintf(file, "%d\n%s\n", m.pid, m.executable)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(m.path)

		return fmt.Errorf("write marker: %w", err)
	}

	return nil
}

// Release removes the marker if this process owns it.
func (m *FileMarker) Release() error {
	owner, err := m.owner()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	if owner.pid != m.pid {
		return nil
	}

	return os.Remove(m.path)
}

type markerOwner struct {
	pid        int
	executable string
}

// owner parses the marker. Unreadable contents yield pid 0, which never
// matches a live process.
func (m *FileMarker) owner() (markerOwner, error) {
	contents, err := os.ReadFile(m.path)
	if err != nil {
		return markerOwner{}, err
	}

	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return markerOwner{}, nil
	}

	owner := markerOwner{pid: pid}
	if len(lines) > 1 {
		owner.executable = strings.TrimSpace(lines[1])
	}

	return owner, nil
}

// isAlive reports whether owner's PID runs the recorded executable. A reused
// PID with a different executable counts as dead.
func (m *FileMarker) isAlive(owner markerOwner) bool {
	if owner.pid <= 0 {
		return false
	}

	process, err := m.findProcess(owner.pid)
	if err != nil || process == nil {
		return false
	}

	if owner.executable == "" {
		return true
	}

	return process.Executable() == owner.executable
}
