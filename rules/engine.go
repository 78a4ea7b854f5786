package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/dbworkflow/classify"
	"github.com/c360studio/dbworkflow/logging"
	"github.com/c360studio/dbworkflow/repopack"
	"github.com/c360studio/dbworkflow/tools"
)

// FileResult records what happened to one file.
type FileResult struct {
	Path         string              `json:"path"`
	SourceType   classify.SourceType `json:"source_type"`
	RulesApplied []string            `json:"rules_applied,omitempty"`
	LinesChanged int                 `json:"lines_changed"`
	HeaderAdded  bool                `json:"header_added"`
	Changed      bool                `json:"changed"`

	// Skipped marks files that already carry the decommission banner.
	Skipped bool `json:"skipped,omitempty"`

	Error string `json:"error,omitempty"`
}

// Engine applies rule packs to matched files.
type Engine struct {
	rules  []Rule
	header Header
	logger *logging.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOverlay merges extra rules onto the built-in packs. Rules sharing an
// ID with a built-in replace it.
func WithOverlay(extras []Rule) EngineOption {
	return func(e *Engine) { e.rules = mergeRules(e.rules, extras) }
}

// WithHeader overrides the banner fields.
func WithHeader(h Header) EngineOption {
	return func(e *Engine) { e.header = h }
}

// WithRulesLogger attaches a structured logger.
func WithRulesLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine builds an engine over the built-in packs.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		rules:  mergeRules(BuiltinRules(), nil),
		header: DefaultHeader(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the merged rule set, highest priority first.
func (e *Engine) Rules() []Rule {
	return append([]Rule{}, e.rules...)
}

// ProcessFile is the pure transformation: it returns the rewritten content
// and a result record, touching nothing outside its arguments. Files already
// carrying the decommission banner pass through unchanged.
func (e *Engine) ProcessFile(ctx context.Context, mf repopack.MatchedFile, database string) (string, FileResult) {
	sourceType := mf.SourceType
	if sourceType == "" {
		sourceType = classify.Unknown
	}
	fr := FileResult{Path: mf.OriginalPath, SourceType: sourceType}

	if HasHeader(mf.Content) {
		fr.Skipped = true
		return mf.Content, fr
	}

	content := mf.Content
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			fr.Error = err.Error()
			return mf.Content, fr
		}
		if !rule.appliesTo(sourceType, mf.FrameworkHints) {
			continue
		}

		pattern, err := compilePattern(rule.Pattern, database)
		if err != nil {
			fr.Error = err.Error()
			continue
		}

		next, changed := e.apply(rule, pattern, content, sourceType, database)
		if changed > 0 {
			content = next
			fr.RulesApplied = append(fr.RulesApplied, rule.ID)
			fr.LinesChanged += changed
		}
	}

	content = e.header.Render(database, sourceType) + content
	fr.HeaderAdded = true
	fr.Changed = true

	if e.logger != nil {
		e.logger.Debug("rules", "File processed", map[string]any{
			"path":          fr.Path,
			"source_type":   sourceType.String(),
			"rules_applied": fr.RulesApplied,
			"lines_changed": fr.LinesChanged,
		})
	}
	return content, fr
}

// ApplyAndCommit runs ProcessFile and commits the rewrite to the branch.
// Already-decommissioned files produce no commit and no error.
func (e *Engine) ApplyAndCommit(ctx context.Context, host *tools.HostClient, owner, repo, branch string, mf repopack.MatchedFile, database string) (*tools.CommitRef, FileResult, error) {
	content, fr := e.ProcessFile(ctx, mf, database)
	if fr.Skipped || !fr.Changed {
		return nil, fr, nil
	}

	message := CommitMessage(fr.SourceType, database, mf.OriginalPath)
	ref, err := host.CreateOrUpdateFile(ctx, owner, repo, mf.OriginalPath, content, message, branch)
	if err != nil {
		fr.Error = err.Error()
		return nil, fr, fmt.Errorf("commit %s: %w", mf.OriginalPath, err)
	}

	if e.logger != nil {
		e.logger.Info("rules", "File committed", map[string]any{
			"path":   mf.OriginalPath,
			"branch": branch,
			"sha":    ref.SHA,
		})
	}
	return ref, fr, nil
}

// apply dispatches one rule over the content, returning the new content and
// the number of lines changed.
func (e *Engine) apply(rule Rule, pattern *regexp.Regexp, content string, sourceType classify.SourceType, database string) (string, int) {
	switch rule.Action {
	case ActionCommentOut:
		return commentOut(pattern, content, sourceType)
	case ActionDeleteLine:
		return deleteLines(pattern, content)
	case ActionInsertNotice:
		return insertNotice(pattern, content, sourceType, database, rule.Replacement)
	case ActionReplaceWithException:
		return replaceWithException(pattern, content, database, e.header)
	case ActionPrependHeader:
		// The engine prepends the banner unconditionally; nothing to do.
		return content, 0
	}
	return content, 0
}

// splitIndent separates leading whitespace from the rest of a line.
func splitIndent(line string) (indent, rest string) {
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return line[:i], line[i:]
}

// commentLine wraps one line in the source type's comment syntax, preserving
// indentation. Already-commented lines pass through unchanged.
func commentLine(line string, sourceType classify.SourceType) (string, bool) {
	prefix, suffix := sourceType.CommentTokens()
	indent, rest := splitIndent(line)
	if rest == "" || strings.HasPrefix(rest, prefix) {
		return line, false
	}
	if suffix != "" {
		return indent + prefix + " " + rest + " " + suffix, true
	}
	return indent + prefix + " " + rest, true
}

// commentOut comments matched lines. Matched lines opening a block (a
// Terraform brace block, or a YAML mapping whose children are indented
// deeper) take the whole block with them.
func commentOut(pattern *regexp.Regexp, content string, sourceType classify.SourceType) (string, int) {
	lines := strings.Split(content, "\n")
	changed := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !pattern.MatchString(line) {
			continue
		}

		end := i
		switch {
		case sourceType == classify.Infrastructure && strings.Contains(line, "{"):
			end = braceBlockEnd(lines, i)
		case blockOpener(line):
			end = indentBlockEnd(lines, i)
		}

		for j := i; j <= end; j++ {
			if out, ok := commentLine(lines[j], sourceType); ok {
				lines[j] = out
				changed++
			}
		}
		i = end
	}
	return strings.Join(lines, "\n"), changed
}

// blockOpener reports whether a line opens an indentation-scoped mapping
// (YAML style: ends with a colon).
func blockOpener(line string) bool {
	_, rest := splitIndent(line)
	return strings.HasSuffix(strings.TrimRight(rest, " \t"), ":")
}

// braceBlockEnd returns the index of the line closing the brace block opened
// at start. Unbalanced content degrades to the single line.
func braceBlockEnd(lines []string, start int) int {
	depth := 0
	for i := start; i < len(lines); i++ {
		depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		if depth <= 0 {
			return i
		}
	}
	return start
}

// indentBlockEnd returns the index of the last line belonging to the
// indentation block opened at start. Blank lines inside the block are kept.
func indentBlockEnd(lines []string, start int) int {
	indent, _ := splitIndent(lines[start])
	end := start
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		childIndent, _ := splitIndent(lines[i])
		if len(childIndent) <= len(indent) {
			break
		}
		end = i
	}
	return end
}

// deleteLines removes matched lines.
func deleteLines(pattern *regexp.Regexp, content string) (string, int) {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	removed := 0
	for _, line := range lines {
		if pattern.MatchString(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), removed
}

// insertNotice inserts a deprecation comment directly above each matched
// line. Already-commented matches are left alone.
func insertNotice(pattern *regexp.Regexp, content string, sourceType classify.SourceType, database, replacement string) (string, int) {
	prefix, suffix := sourceType.CommentTokens()
	text := replacement
	if text == "" {
		text = fmt.Sprintf("DEPRECATED: references decommissioned database %s", database)
	}

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	inserted := 0

	for _, line := range lines {
		indent, rest := splitIndent(line)
		if pattern.MatchString(line) && !strings.HasPrefix(rest, prefix) {
			notice := indent + prefix + " " + text
			if suffix != "" {
				notice += " " + suffix
			}
			out = append(out, notice)
			inserted++
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), inserted
}

var pythonDefPattern = regexp.MustCompile(`^(\s*)def\s+\w+\s*\(`)

// replaceWithException rewrites Python functions whose signature or body
// references the database: the body becomes a single raise naming the
// database, date, and contact, with the original body preserved as comments.
// Matches outside any function are commented out.
func replaceWithException(pattern *regexp.Regexp, content string, database string, header Header) (string, int) {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	changed := 0

	raiseFor := func(indent string) string {
		return fmt.Sprintf(
			`%sraise RuntimeError("Database %s was decommissioned on %s; contact %s")`,
			indent, database, header.Date.Format("2006-01-02"), header.Contact,
		)
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		def := pythonDefPattern.FindStringSubmatch(line)
		if def == nil {
			if pattern.MatchString(line) {
				if commented, ok := commentLine(line, classify.Python); ok {
					out = append(out, commented)
					changed++
					continue
				}
			}
			out = append(out, line)
			continue
		}

		defIndent := def[1]
		bodyEnd := i
		for j := i + 1; j < len(lines); j++ {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" {
				continue
			}
			childIndent, _ := splitIndent(lines[j])
			if len(childIndent) <= len(defIndent) {
				break
			}
			bodyEnd = j
		}

		touched := pattern.MatchString(line)
		for j := i + 1; j <= bodyEnd && !touched; j++ {
			touched = pattern.MatchString(lines[j])
		}
		if !touched {
			out = append(out, line)
			continue
		}

		out = append(out, line)
		out = append(out, raiseFor(defIndent+"    "))
		changed++
		for j := i + 1; j <= bodyEnd; j++ {
			if commented, ok := commentLine(lines[j], classify.Python); ok {
				out = append(out, commented)
				changed++
			} else {
				out = append(out, lines[j])
			}
		}
		i = bodyEnd
	}
	return strings.Join(out, "\n"), changed
}
