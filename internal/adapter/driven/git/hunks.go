// Package git implements the DiffSource port on top of the git CLI and
// extracts content-addressed hunks from unified diffs.
package git

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

type diffEventKind int

const (
	eventFile diffEventKind = iota
	eventHunk
	eventLine
)

// diffEvent is one step of a flattened diff: a file boundary, a hunk
// boundary, or a single line within the current hunk.
type diffEvent struct {
	kind diffEventKind

	file string

	oldStart, oldLines int
	newStart, newLines int

	origin byte
	text   string
}

// ParseHunks parses a unified diff and returns its text hunks in diff order.
// Binary files contribute no hunks.
func ParseHunks(r io.Reader) ([]model.DiffHunk, error) {
	files, _, err := gitdiff.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	var acc hunkAccumulator
	for ev := range diffEvents(files) {
		acc.step(ev)
	}

	return acc.finish(), nil
}

func diffEvents(files []*gitdiff.File) iter.Seq[diffEvent] {
	return func(yield func(diffEvent) bool) {
		for _, f := range files {
			if f.IsBinary {
				continue
			}

			name := f.NewName
			if name == "" {
				name = f.OldName
			}
			if !yield(diffEvent{kind: eventFile, file: name}) {
				return
			}

			for _, frag := range f.TextFragments {
				if !yield(diffEvent{
					kind:     eventHunk,
					oldStart: int(frag.OldPosition),
					oldLines: int(frag.OldLines),
					newStart: int(frag.NewPosition),
					newLines: int(frag.NewLines),
				}) {
					return
				}

				for _, line := range frag.Lines {
					if !yield(diffEvent{kind: eventLine, origin: originOf(line.Op), text: line.Line}) {
						return
					}
				}
			}
		}
	}
}

func originOf(op gitdiff.LineOp) byte {
	switch op {
	case gitdiff.OpAdd:
		return '+'
	case gitdiff.OpDelete:
		return '-'
	default:
		return ' '
	}
}

// hunkAccumulator folds diff events into finished hunks. The hunk under
// construction is closed by the next file or hunk boundary, or by finish.
type hunkAccumulator struct {
	file    string
	current *model.DiffHunk
	content strings.Builder
	hunks   []model.DiffHunk
}

func (a *hunkAccumulator) step(ev diffEvent) {
	switch ev.kind {
	case eventFile:
		a.flush()
		a.file = ev.file
	case eventHunk:
		a.flush()
		a.current = &model.DiffHunk{
			File:     a.file,
			OldStart: ev.oldStart,
			OldLines: ev.oldLines,
			NewStart: ev.newStart,
			NewLines: ev.newLines,
		}
		fmt.Fprintf(&a.content, "@@ -%d,%d +%d,%d @@\n", ev.oldStart, ev.oldLines, ev.newStart, ev.newLines)
	case eventLine:
		if a.current == nil {
			return
		}
		a.content.WriteByte(ev.origin)
		a.content.WriteString(ev.text)
	}
}

func (a *hunkAccumulator) flush() {
	if a.current == nil {
		return
	}

	h := *a.current
	h.Content = a.content.String()
	h.ID = model.HunkID(h.File, h.OldStart, h.NewStart, h.Content)
	a.hunks = append(a.hunks, h)

	a.current = nil
	a.content.Reset()
}

func (a *hunkAccumulator) finish() []model.DiffHunk {
	a.flush()
	if a.hunks == nil {
		return []model.DiffHunk{}
	}
	return a.hunks
}
