package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/dbworkflow/classify"
	"github.com/c360studio/dbworkflow/logging"
	"github.com/c360studio/dbworkflow/repopack"
)

// DefaultScanConcurrency bounds the per-archive scan fan-out.
const DefaultScanConcurrency = 8

// Finding is one scored occurrence of the database identifier.
type Finding struct {
	Path         string              `json:"path"`
	LineNumber   int                 `json:"line_number"`
	Line         string              `json:"line"`
	MatchedText  string              `json:"matched_text"`
	ContextLines []string            `json:"context_lines,omitempty"`
	PatternID    string              `json:"pattern_id"`
	Kind         PatternKind         `json:"kind"`
	SourceType   classify.SourceType `json:"source_type"`

	// Confidence is pattern strength times classifier confidence,
	// downweighted when the match sits on a comment line.
	Confidence float64 `json:"confidence"`
	Comment    bool    `json:"comment,omitempty"`
}

// FileReport groups a file's findings with its classification.
type FileReport struct {
	Path           string              `json:"path"`
	SourceType     classify.SourceType `json:"source_type"`
	FrameworkHints []string            `json:"framework_hints,omitempty"`
	Confidence     float64             `json:"confidence"`
	Findings       []Finding           `json:"findings"`
}

// MaxConfidence returns the strongest finding in the file, 0 when empty.
func (f *FileReport) MaxConfidence() float64 {
	max := 0.0
	for _, finding := range f.Findings {
		if finding.Confidence > max {
			max = finding.Confidence
		}
	}
	return max
}

// Report is the outcome of discovering one database across one archive.
type Report struct {
	Database     string       `json:"database"`
	ArchiveURL   string       `json:"archive_url,omitempty"`
	TotalFiles   int          `json:"total_files"`
	ScannedFiles int          `json:"scanned_files"`
	Files        []FileReport `json:"files"`
}

// TotalFindings counts findings across all files.
func (r *Report) TotalFindings() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Findings)
	}
	return n
}

// ByType groups the matched files by classified source type.
func (r *Report) ByType() map[classify.SourceType][]FileReport {
	out := make(map[classify.SourceType][]FileReport)
	for _, f := range r.Files {
		out[f.SourceType] = append(out[f.SourceType], f)
	}
	return out
}

// Engine scans packed archives for scored database references.
type Engine struct {
	weights     Weights
	concurrency int
	logger      *logging.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWeights overrides the default calibration.
func WithWeights(w Weights) EngineOption {
	return func(e *Engine) { e.weights = w }
}

// WithConcurrency bounds the scan fan-out.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithEngineLogger attaches a structured logger.
func WithEngineLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine builds a discovery engine with the default weights.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		weights:     DefaultWeights(),
		concurrency: DefaultScanConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.weights.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Discover parses the archive at archivePath and scores every reference to
// the database identifier.
func (e *Engine) Discover(ctx context.Context, archivePath, database string) (*Report, error) {
	if strings.TrimSpace(database) == "" {
		return nil, fmt.Errorf("database name is required")
	}

	archive, err := repopack.ParseFile(archivePath)
	if err != nil {
		return nil, err
	}
	return e.DiscoverArchive(ctx, archive, database)
}

// DiscoverArchive scans an already-parsed archive. Files are scanned
// concurrently; the report's file order is deterministic by path.
func (e *Engine) DiscoverArchive(ctx context.Context, archive *repopack.Archive, database string) (*Report, error) {
	catalog := NewCatalog(database, e.weights)

	report := &Report{
		Database:   database,
		ArchiveURL: archive.URL,
		TotalFiles: len(archive.Files),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, file := range archive.TextFiles() {
		file := file
		report.ScannedFiles++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr := e.scanFile(catalog, file)
			if fr == nil {
				return nil
			}
			mu.Lock()
			report.Files = append(report.Files, *fr)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Files, func(i, j int) bool {
		return report.Files[i].Path < report.Files[j].Path
	})

	if e.logger != nil {
		e.logger.Info("discovery", "Archive scan finished", map[string]any{
			"database":      database,
			"scanned_files": report.ScannedFiles,
			"matched_files": len(report.Files),
			"findings":      report.TotalFindings(),
		})
	}
	return report, nil
}

// scanFile scores one file against the catalog, nil when nothing matched.
func (e *Engine) scanFile(catalog *Catalog, file repopack.File) *FileReport {
	classification := classify.Classify(file.Path, []byte(file.Content))
	patterns := catalog.For(classification.Type)

	var findings []Finding
	lines := strings.Split(file.Content, "\n")
	for i, line := range lines {
		best, ok := e.scoreLine(patterns, line)
		if !ok {
			continue
		}

		comment := isCommentLine(line, classification.Type)
		confidence := best.pattern.Strength * classification.Confidence
		if comment {
			confidence *= e.weights.CommentFactor
		}

		findings = append(findings, Finding{
			Path:         file.Path,
			LineNumber:   i + 1,
			Line:         line,
			MatchedText:  best.text,
			ContextLines: contextAround(lines, i),
			PatternID:    best.pattern.ID,
			Kind:         best.pattern.Kind,
			SourceType:   classification.Type,
			Confidence:   confidence,
			Comment:      comment,
		})
	}

	if len(findings) == 0 {
		return nil
	}
	return &FileReport{
		Path:           file.Path,
		SourceType:     classification.Type,
		FrameworkHints: classification.FrameworkHints,
		Confidence:     classification.Confidence,
		Findings:       findings,
	}
}

// contextRadius matches the extractor's two lines each side.
const contextRadius = 2

// contextAround returns up to contextRadius lines above and below index i.
func contextAround(lines []string, i int) []string {
	lo := i - contextRadius
	if lo < 0 {
		lo = 0
	}
	hi := i + contextRadius
	if hi > len(lines)-1 {
		hi = len(lines) - 1
	}
	var out []string
	for j := lo; j <= hi; j++ {
		if j != i {
			out = append(out, lines[j])
		}
	}
	return out
}

type lineScore struct {
	pattern Pattern
	text    string
}

// scoreLine returns the strongest pattern hit on a line. Patterns arrive
// strongest-first, so the first match wins.
func (e *Engine) scoreLine(patterns []Pattern, line string) (lineScore, bool) {
	for _, p := range patterns {
		if text := p.Regexp.FindString(line); text != "" {
			return lineScore{pattern: p, text: text}, true
		}
	}
	return lineScore{}, false
}

// isCommentLine checks the line against the comment syntax of the classified
// source type first, then the shared fallbacks.
func isCommentLine(line string, sourceType classify.SourceType) bool {
	trimmed := strings.TrimSpace(line)
	if prefix, _ := sourceType.CommentTokens(); prefix != "" && strings.HasPrefix(trimmed, prefix) {
		return true
	}
	for _, prefix := range []string{"#", "//", "--", "<!--", "*", "/*"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
