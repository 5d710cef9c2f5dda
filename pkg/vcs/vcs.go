// Package vcs inspects checkouts produced by the clone steps.
package vcs

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned when the directory holds no git repository.
var ErrNotRepository = errors.New("not a git repository")

// Revision identifies what a checkout points at.
type Revision struct {
	// Hash is the full commit hash of HEAD.
	Hash string

	// Branch is the short branch name, empty for a detached HEAD.
	Branch string
}

// Short returns the abbreviated commit hash.
func (r Revision) Short() string {
	if len(r.Hash) > 12 {
		return r.Hash[:12]
	}
	return r.Hash
}

// Head reads the HEAD revision of the checkout at dir.
func Head(dir string) (Revision, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return Revision{}, fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return Revision{}, fmt.Errorf("failed to open repository %s: %w", dir, err)
	}

	ref, err := repo.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("failed to resolve HEAD of %s: %w", dir, err)
	}

	rev := Revision{Hash: ref.Hash().String()}
	if ref.Name().IsBranch() {
		rev.Branch = ref.Name().Short()
	}
	return rev, nil
}
