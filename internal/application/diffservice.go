package application

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

// DiffService presents the diff under review and relates comments to it.
type DiffService struct {
	source   driven.DiffSource
	comments driven.CommentStore
}

// NewDiffService creates a DiffService. source may be nil when no diff is
// configured; diff operations then return ErrNoDiffSource.
func NewDiffService(source driven.DiffSource, comments driven.CommentStore) *DiffService {
	return &DiffService{source: source, comments: comments}
}

// Files computes the current diff grouped by file.
func (s *DiffService) Files(ctx context.Context) ([]model.FileDiff, error) {
	hunks, err := s.hunks(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByFile(hunks), nil
}

// StaleComments returns the session's comments whose hunk no longer appears
// in the current diff. Such comments stay valid; they are only unanchored.
func (s *DiffService) StaleComments(ctx context.Context, sessionID string) ([]model.Comment, error) {
	hunks, err := s.hunks(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(hunks))
	for _, h := range hunks {
		current[h.ID] = struct{}{}
	}

	comments, err := s.comments.ListComments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stale := []model.Comment{}
	for _, c := range comments {
		if _, ok := current[c.HunkID]; !ok {
			stale = append(stale, c)
		}
	}

	return stale, nil
}

func (s *DiffService) hunks(ctx context.Context) ([]model.DiffHunk, error) {
	if s.source == nil {
		return nil, ErrNoDiffSource
	}
	return s.source.ComputeDiff(ctx)
}

// GroupByFile groups hunks by file path. Files are sorted by path and hunks
// within a file by their new-side start line.
func GroupByFile(hunks []model.DiffHunk) []model.FileDiff {
	byFile := make(map[string][]model.DiffHunk)
	for _, h := range hunks {
		byFile[h.File] = append(byFile[h.File], h)
	}

	files := make([]model.FileDiff, 0, len(byFile))
	for file, hs := range byFile {
		slices.SortStableFunc(hs, func(a, b model.DiffHunk) int {
			return cmp.Compare(a.NewStart, b.NewStart)
		})
		files = append(files, model.FileDiff{File: file, Hunks: hs})
	}

	slices.SortFunc(files, func(a, b model.FileDiff) int {
		return cmp.Compare(a.File, b.File)
	})

	return files
}

// FilterFiles keeps the files whose path matches the glob pattern. Patterns
// support ** for any number of directories. An empty pattern keeps every file.
func FilterFiles(files []model.FileDiff, pattern string) ([]model.FileDiff, error) {
	if pattern == "" {
		return files, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("path filter %q: %w", pattern, doublestar.ErrBadPattern)
	}

	kept := []model.FileDiff{}
	for _, f := range files {
		if ok, _ := doublestar.Match(pattern, f.File); ok {
			kept = append(kept, f)
		}
	}
	return kept, nil
}
