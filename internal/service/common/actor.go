//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"
)

// Actor identifies the person running the build.
type Actor struct {
	// Hostname is the machine the build runs on.
	Hostname string
	// Username is the system user running the build.
	Username string
}

// DetectActor gathers host and user information.
func DetectActor() (*Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Actor{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}

// Email returns a user@hostname address for commit signatures.
func (a *Actor) Email() string {
	return a.Username + "@" + a.Hostname
}
