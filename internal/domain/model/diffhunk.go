package model

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// DiffHunk is a contiguous changed region of one file.
type DiffHunk struct {
	ID       string
	File     string
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Content  string // Hunk header followed by the origin-prefixed lines.
}

// FileDiff groups the hunks of a single file for presentation.
type FileDiff struct {
	File  string
	Hunks []DiffHunk
}

// HunkID derives the stable identifier of a hunk. Peers that compute the same
// diff always derive the same identifier, and any change to the inputs yields
// a different one.
func HunkID(file string, oldStart, newStart int, content string) string {
	d := xxhash.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(file)))
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(file)

	binary.LittleEndian.PutUint64(buf[:], uint64(int64(oldStart)))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(newStart)))
	_, _ = d.Write(buf[:])

	_, _ = d.WriteString(content)

	return fmt.Sprintf("%016x", d.Sum64())
}
