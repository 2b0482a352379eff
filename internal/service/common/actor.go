//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/repo-bootstrap/internal/domain/pipeline"
)

var errUnknownUser = errors.New("current user is unknown")

// DetectActor gathers host and user information for the run report. Without a
// user database, as in minimal containers, USER or USERNAME names the user.
func DetectActor() (*pipeline.Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	name, err := username(user.Current, os.Getenv)
	if err != nil {
		return nil, err
	}

	return &pipeline.Actor{
		Hostname: hostname,
		Username: name,
	}, nil
}

func username(lookup func() (*user.User, error), getenv func(string) string) (string, error) {
	current, err := lookup()
	if err == nil && current.Username != "" {
		return current.Username, nil
	}

	for _, key := range []string{"USER", "USERNAME"} {
		if name := getenv(key); name != "" {
			return name, nil
		}
	}

	if err == nil {
		err = errUnknownUser
	}

	return "", fmt.Errorf("current user: %w", err)
}
