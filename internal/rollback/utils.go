package rollback

import (
	"fmt"
	"strings"
	"time"

	"github.com/PixelDroid19/orbis-core/internal/model"
)

// ApplyReverseChanges is a stateless, diff-based alternative to the
// snapshot-restore path: it undoes insert and delete changes against
// the given content. Replace changes are skipped because no pre-image
// is recorded for them; the primary rollback path restores whole
// snapshots and does not use this function.
func ApplyReverseChanges(content string, changes []model.CodeChange) string {
	for i := len(changes) - 1; i >= 0; i-- {
		change := changes[i]
		switch change.Type {
		case model.ChangeInsert:
			content = removeContent(content, change)
		case model.ChangeDelete:
			content = insertContent(content, change)
		case model.ChangeReplace:
			// no pre-image recorded; cannot reverse
		}
	}
	return content
}

// ValidateRollback produces non-fatal warnings about a pending
// rollback; it never blocks one.
func ValidateRollback(snap Snapshot, current model.ContextSnapshot) []string {
	var warnings []string
	if current.Buffer.Content != snap.OriginalState.Content {
		warnings = append(warnings, "buffer content has changed since the snapshot was taken")
	}
	if current.Buffer.Path != snap.OriginalState.Path {
		warnings = append(warnings, fmt.Sprintf("buffer path changed from %q to %q", snap.OriginalState.Path, current.Buffer.Path))
	}
	if time.Since(snap.Timestamp) > time.Hour {
		warnings = append(warnings, "snapshot is older than one hour")
	}
	return warnings
}

func removeContent(content string, change model.CodeChange) string {
	if change.Content == "" || change.Range == nil {
		return content
	}
	offset := offsetOf(content, change.Range.Start)
	if offset < 0 {
		return content
	}
	end := offset + len(change.Content)
	if end > len(content) || content[offset:end] != change.Content {
		return content
	}
	return content[:offset] + content[end:]
}

func insertContent(content string, change model.CodeChange) string {
	if change.Content == "" || change.Range == nil {
		return content
	}
	offset := offsetOf(content, change.Range.Start)
	if offset < 0 {
		offset = len(content)
	}
	return content[:offset] + change.Content + content[offset:]
}

// offsetOf converts a line/column position into a byte offset, or -1
// when the position lies outside the content.
func offsetOf(content string, pos model.Position) int {
	lines := strings.SplitAfter(content, "\n")
	if pos.Line < 0 || pos.Line >= len(lines) {
		return -1
	}
	offset := 0
	for i := 0; i < pos.Line; i++ {
		offset += len(lines[i])
	}
	if pos.Column < 0 || pos.Column > len(lines[pos.Line]) {
		return -1
	}
	return offset + pos.Column
}
