package gitstore

import (
	"os"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// DefaultSignature returns the author/committer signature to stamp on
// engine-produced commits, overridable via environment so multi-user
// deployments can set a real identity without a config file round-trip.
func DefaultSignature() object.Signature {
	name := os.Getenv("FORGE_AUTHOR_NAME")
	if name == "" {
		name = "forge"
	}
	email := os.Getenv("FORGE_AUTHOR_EMAIL")
	if email == "" {
		email = "forge@localhost"
	}
	return object.Signature{Name: name, Email: email, When: time.Now()}
}
