package git

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DiffSource = (*Source)(nil)

// Source computes hunks from a local git repository.
type Source struct {
	runner   Runner
	repoPath string
	target   string
}

// NewSource creates a Source for the repository at repoPath. With an empty
// target the working tree is compared against HEAD; otherwise target is
// compared against HEAD.
func NewSource(runner Runner, repoPath, target string) *Source {
	return &Source{runner: runner, repoPath: repoPath, target: target}
}

// ComputeDiff implements driven.DiffSource.
func (s *Source) ComputeDiff(ctx context.Context) ([]model.DiffHunk, error) {
	args := []string{"diff", "--no-color", "--no-ext-diff"}
	if s.target == "" {
		args = append(args, "HEAD")
	} else {
		args = append(args, s.target, "HEAD")
	}

	out, err := s.runner.RunDir(ctx, s.repoPath, "git", args...)
	if err != nil {
		return nil, fmt.Errorf("git diff in %s: %w", s.repoPath, err)
	}

	return ParseHunks(bytes.NewReader(out))
}
