// Package vcs answers history questions about files in a repository:
// which commits last touched a line range and which commits touched a file.
package vcs

import (
	"context"
	"errors"

	"github.com/dshills/coderag/pkg/types"
)

// CapabilityName labels version-control failures in CapabilityError
const CapabilityName = "version_control"

// ErrNoRepository is returned by Unavailable
var ErrNoRepository = errors.New("no git repository")

// VersionControl is the history capability used for context enrichment.
// Paths are slash-separated and relative to the indexed repository root.
type VersionControl interface {
	Available() bool

	// CommitsTouchingLines returns the commits that last changed at least one
	// line in [start, end] (1-based, inclusive), most recent first
	CommitsTouchingLines(ctx context.Context, path string, start, end int) ([]types.CommitContext, error)

	// CommitsForFile returns up to limit commits that changed path, most recent first
	CommitsForFile(ctx context.Context, path string, limit int) ([]types.CommitContext, error)
}

// Unavailable is the VersionControl used when no repository exists
type Unavailable struct{}

var _ VersionControl = Unavailable{}

func (Unavailable) Available() bool { return false }

func (Unavailable) CommitsTouchingLines(context.Context, string, int, int) ([]types.CommitContext, error) {
	return nil, &types.CapabilityError{Capability: CapabilityName, Err: ErrNoRepository}
}

func (Unavailable) CommitsForFile(context.Context, string, int) ([]types.CommitContext, error) {
	return nil, &types.CapabilityError{Capability: CapabilityName, Err: ErrNoRepository}
}
