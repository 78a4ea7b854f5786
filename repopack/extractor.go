package repopack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/c360studio/dbworkflow/classify"
	"github.com/c360studio/dbworkflow/logging"
)

// DefaultQuarantineRoot is where extracted copies of matched files land.
const DefaultQuarantineRoot = "tests/tmp/pattern_match"

// contextRadius is the number of context lines kept on each side of a match.
const contextRadius = 2

// Match is one occurrence of the database identifier in a file.
type Match struct {
	// LineNumber is 1-based.
	LineNumber int `json:"line_number"`

	// MatchedText is the matched span, verbatim.
	MatchedText string `json:"matched_text"`

	// Line is the full source line containing the match.
	Line string `json:"line"`

	// ContextLines are up to two lines above and below the match.
	ContextLines []string `json:"context_lines,omitempty"`

	// Confidence is filled by the discovery engine; the plain extractor
	// leaves it zero.
	Confidence float64 `json:"confidence,omitempty"`

	// Comment marks matches found on comment lines.
	Comment bool `json:"comment,omitempty"`
}

// MatchedFile is one file referencing the database, enriched by the
// classifier and discovery engine after extraction.
type MatchedFile struct {
	// OriginalPath is the path inside the archive.
	OriginalPath string `json:"original_path"`

	// ExtractedPath is the quarantine copy on local disk.
	ExtractedPath string `json:"extracted_path,omitempty"`

	// Content is the file body the matches refer to.
	Content string `json:"-"`

	Matches []Match `json:"matches"`

	SourceType     classify.SourceType `json:"source_type,omitempty"`
	Confidence     float64             `json:"confidence,omitempty"`
	FrameworkHints []string            `json:"framework_hints,omitempty"`
}

// ExtractionResult is the outcome of scanning one archive for one database.
type ExtractionResult struct {
	Database       string        `json:"database"`
	TotalFiles     int           `json:"total_files"`
	MatchedFiles   []MatchedFile `json:"matched_files"`
	QuarantineRoot string        `json:"quarantine_root"`
}

// Extractor scans packed archives for word-bounded, case-insensitive
// occurrences of a database identifier and quarantines copies of the
// matched files for offline inspection.
type Extractor struct {
	root   string
	logger *logging.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithQuarantineRoot overrides the quarantine directory.
func WithQuarantineRoot(root string) ExtractorOption {
	return func(e *Extractor) { e.root = root }
}

// WithExtractorLogger attaches a structured logger.
func WithExtractorLogger(logger *logging.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor builds an extractor writing under the default quarantine root.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{root: DefaultQuarantineRoot}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IdentifierPattern compiles the word-bounded, case-insensitive pattern for
// a database identifier.
func IdentifierPattern(database string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(database) + `\b`)
}

// Extract parses the archive at archivePath and returns every file matching
// the database identifier, writing quarantine copies preserving the original
// directory structure.
func (e *Extractor) Extract(ctx context.Context, archivePath, database string) (*ExtractionResult, error) {
	if strings.TrimSpace(database) == "" {
		return nil, fmt.Errorf("database name is required")
	}

	archive, err := ParseFile(archivePath)
	if err != nil {
		return nil, err
	}
	return e.ExtractArchive(ctx, archive, database)
}

// ExtractArchive scans an already-parsed archive.
func (e *Extractor) ExtractArchive(ctx context.Context, archive *Archive, database string) (*ExtractionResult, error) {
	pattern := IdentifierPattern(database)
	quarantine := filepath.Join(e.root, database)

	result := &ExtractionResult{
		Database:       database,
		TotalFiles:     len(archive.Files),
		QuarantineRoot: quarantine,
	}

	for _, file := range archive.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if file.Binary {
			continue
		}

		matches := ScanContent(file.Content, pattern)
		if len(matches) == 0 {
			continue
		}

		mf := MatchedFile{
			OriginalPath: file.Path,
			Content:      file.Content,
			Matches:      matches,
		}

		copyPath, err := e.quarantineCopy(quarantine, file)
		if err != nil {
			// Quarantine failures degrade to in-memory matches only.
			e.warn("Quarantine copy failed", map[string]any{
				"path":  file.Path,
				"error": err.Error(),
			})
		} else {
			mf.ExtractedPath = copyPath
		}

		result.MatchedFiles = append(result.MatchedFiles, mf)
	}

	e.info("Reference extraction finished", map[string]any{
		"database":      database,
		"total_files":   result.TotalFiles,
		"matched_files": len(result.MatchedFiles),
	})
	return result, nil
}

// ScanContent finds every pattern occurrence with line numbers and context.
func ScanContent(content string, pattern *regexp.Regexp) []Match {
	lines := strings.Split(content, "\n")
	var matches []Match

	for i, line := range lines {
		spans := pattern.FindAllString(line, -1)
		if len(spans) == 0 {
			continue
		}

		lo := i - contextRadius
		if lo < 0 {
			lo = 0
		}
		hi := i + contextRadius
		if hi > len(lines)-1 {
			hi = len(lines) - 1
		}
		var context []string
		for j := lo; j <= hi; j++ {
			if j != i {
				context = append(context, lines[j])
			}
		}

		for _, span := range spans {
			matches = append(matches, Match{
				LineNumber:   i + 1,
				MatchedText:  span,
				Line:         line,
				ContextLines: context,
				Comment:      isCommentLine(line),
			})
		}
	}
	return matches
}

// isCommentLine reports whether the line is a comment under any of the
// comment syntaxes the pipeline handles.
func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"#", "//", "--", "<!--", "*", "/*"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// quarantineCopy writes the file body under the quarantine root, preserving
// the archive-relative directory structure.
func (e *Extractor) quarantineCopy(root string, file File) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(file.Path, "/"))
	dest := filepath.Join(root, rel)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, []byte(file.Content), 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func (e *Extractor) info(message string, data map[string]any) {
	if e.logger != nil {
		e.logger.Info("extractor", message, data)
	}
}

func (e *Extractor) warn(message string, data map[string]any) {
	if e.logger != nil {
		e.logger.Warning("extractor", message, data)
	}
}
