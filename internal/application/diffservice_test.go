package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reviewmesh/internal/application"
	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

type mockDiffSource struct {
	hunks []model.DiffHunk
	err   error
}

func (m *mockDiffSource) ComputeDiff(_ context.Context) ([]model.DiffHunk, error) {
	return m.hunks, m.err
}

func hunk(file string, newStart int) model.DiffHunk {
	content := "@@ -1,1 +1,1 @@\n-a\n+b\n"
	return model.DiffHunk{
		ID:       model.HunkID(file, newStart, newStart, content),
		File:     file,
		OldStart: newStart,
		OldLines: 1,
		NewStart: newStart,
		NewLines: 1,
		Content:  content,
	}
}

func TestGroupByFile(t *testing.T) {
	hunks := []model.DiffHunk{
		hunk("z.go", 40),
		hunk("a.go", 10),
		hunk("z.go", 2),
		hunk("m/b.go", 7),
	}

	files := application.GroupByFile(hunks)

	require.Len(t, files, 3)
	assert.Equal(t, "a.go", files[0].File)
	assert.Equal(t, "m/b.go", files[1].File)
	assert.Equal(t, "z.go", files[2].File)

	require.Len(t, files[2].Hunks, 2)
	assert.Equal(t, 2, files[2].Hunks[0].NewStart)
	assert.Equal(t, 40, files[2].Hunks[1].NewStart)
}

func TestGroupByFile_Empty(t *testing.T) {
	assert.Empty(t, application.GroupByFile(nil))
}

func TestDiffService_Files(t *testing.T) {
	src := &mockDiffSource{hunks: []model.DiffHunk{hunk("b.go", 1), hunk("a.go", 1)}}
	svc := application.NewDiffService(src, newMemStore())

	files, err := svc.Files(context.Background())

	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].File)
}

func TestDiffService_NoSource(t *testing.T) {
	svc := application.NewDiffService(nil, newMemStore())

	_, err := svc.Files(context.Background())
	require.ErrorIs(t, err, application.ErrNoDiffSource)

	_, err = svc.StaleComments(context.Background(), testSession)
	require.ErrorIs(t, err, application.ErrNoDiffSource)
}

func TestDiffService_SourceError(t *testing.T) {
	src := &mockDiffSource{err: errors.New("git exploded")}
	svc := application.NewDiffService(src, newMemStore())

	_, err := svc.Files(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git exploded")
}

func TestDiffService_StaleComments(t *testing.T) {
	ctx := context.Background()
	current := hunk("main.go", 10)
	src := &mockDiffSource{hunks: []model.DiffHunk{current}}
	store := newMemStore()

	_, err := store.UpsertComment(ctx, model.Comment{ID: "anchored", SessionID: testSession, HunkID: current.ID, Author: "a", Body: "x"})
	require.NoError(t, err)
	_, err = store.UpsertComment(ctx, model.Comment{ID: "orphan", SessionID: testSession, HunkID: "ffffffffffffffff", Author: "a", Body: "y"})
	require.NoError(t, err)

	svc := application.NewDiffService(src, store)
	stale, err := svc.StaleComments(ctx, testSession)

	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "orphan", stale[0].ID)
}

func TestFilterFiles(t *testing.T) {
	files := application.GroupByFile([]model.DiffHunk{
		hunk("cmd/main.go", 1),
		hunk("internal/app/app.go", 1),
		hunk("internal/app/app_test.go", 1),
		hunk("README.md", 1),
	})

	all, err := application.FilterFiles(files, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	goFiles, err := application.FilterFiles(files, "internal/**/*.go")
	require.NoError(t, err)
	require.Len(t, goFiles, 2)
	assert.Equal(t, "internal/app/app.go", goFiles[0].File)
	assert.Equal(t, "internal/app/app_test.go", goFiles[1].File)

	none, err := application.FilterFiles(files, "docs/**")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = application.FilterFiles(files, "internal/[app")
	require.ErrorIs(t, err, doublestar.ErrBadPattern)
}
