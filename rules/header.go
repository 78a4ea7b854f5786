package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/dbworkflow/classify"
)

// headerMarker identifies a previously decommissioned file. Re-processing a
// file that carries it is a no-op.
const headerMarker = "DATABASE DECOMMISSIONED"

// Header carries the fields of the five-line banner prepended to every
// modified file.
type Header struct {
	Date     time.Time
	Strategy string
	Ticket   string
	Contact  string
}

// DefaultHeader returns a header for today with placeholder routing fields.
func DefaultHeader() Header {
	return Header{
		Date:     time.Now().UTC(),
		Strategy: "contextual-rules",
		Ticket:   "UNTRACKED",
		Contact:  "dba-team",
	}
}

// Render produces the five-line banner in the comment syntax of the source
// type: date, strategy, ticket, contact, and a legend noting that original
// content follows as comments.
func (h Header) Render(database string, sourceType classify.SourceType) string {
	prefix, suffix := sourceType.CommentTokens()

	line := func(text string) string {
		if suffix != "" {
			return prefix + " " + text + " " + suffix
		}
		return prefix + " " + text
	}

	var b strings.Builder
	b.WriteString(line(fmt.Sprintf("%s: %s (%s)", headerMarker, database, h.Date.Format("2006-01-02"))))
	b.WriteByte('\n')
	b.WriteString(line("Strategy: " + h.Strategy))
	b.WriteByte('\n')
	b.WriteString(line("Ticket: " + h.Ticket))
	b.WriteByte('\n')
	b.WriteString(line("Contact: " + h.Contact))
	b.WriteByte('\n')
	b.WriteString(line("Original content preserved below as comments where applicable"))
	b.WriteByte('\n')
	return b.String()
}

// HasHeader reports whether content already starts with a decommission banner.
func HasHeader(content string) bool {
	head := content
	if idx := strings.IndexByte(head, '\n'); idx >= 0 {
		head = head[:idx]
	}
	return strings.Contains(head, headerMarker)
}

// BranchName derives the working branch for a run: decommission-<D>-<short>,
// where short is 7 hex characters derived from the workflow id.
func BranchName(database, workflowID string) string {
	sum := sha256.Sum256([]byte(workflowID))
	return fmt.Sprintf("decommission-%s-%s", database, hex.EncodeToString(sum[:])[:7])
}

// CommitMessage formats the per-file commit message.
func CommitMessage(sourceType classify.SourceType, database, path string) string {
	return fmt.Sprintf("decommission(%s): remove %s references from %s", sourceType, database, path)
}
