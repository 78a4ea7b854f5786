package decommission

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/dbworkflow/classify"
	"github.com/c360studio/dbworkflow/logging"
	"github.com/c360studio/dbworkflow/repopack"
	"github.com/c360studio/dbworkflow/rules"
)

// Strategy names the fallback processor's per-file approach.
type Strategy string

const (
	StrategyInfrastructure Strategy = "infrastructure"
	StrategyConfiguration  Strategy = "configuration"
	StrategyCode           Strategy = "code"
	StrategyDocumentation  Strategy = "documentation"
)

// DecommissionedSuffix names the sibling output tree of the fallback
// processor.
const DecommissionedSuffix = "_decommissioned"

// Processor is the rule-less fallback: a fixed strategy per file extension,
// writing rewritten files into a sibling tree instead of committing.
type Processor struct {
	header rules.Header
	logger *logging.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorHeader overrides the banner fields.
func WithProcessorHeader(h rules.Header) ProcessorOption {
	return func(p *Processor) { p.header = h }
}

// WithProcessorLogger attaches a structured logger.
func WithProcessorLogger(logger *logging.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor builds a fallback processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{header: rules.DefaultHeader()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StrategyFor assigns a strategy by path. Helm chart YAML counts as
// infrastructure; other YAML and JSON as configuration.
func (p *Processor) StrategyFor(path string) Strategy {
	norm := filepath.ToSlash(path)
	ext := strings.ToLower(filepath.Ext(norm))

	if ext == ".tf" || ext == ".tfvars" {
		return StrategyInfrastructure
	}
	if ext == ".yaml" || ext == ".yml" {
		for _, pattern := range []string{"helm/*.y?ml", "**/helm/**/*.y?ml", "**/templates/**"} {
			if ok, _ := doublestar.Match(pattern, norm); ok {
				return StrategyInfrastructure
			}
		}
		return StrategyConfiguration
	}
	if ext == ".json" {
		return StrategyConfiguration
	}
	if ext == ".py" || ext == ".sh" {
		return StrategyCode
	}
	return StrategyDocumentation
}

// sourceTypeFor maps a strategy to the comment-token source type.
func sourceTypeFor(strategy Strategy, path string) classify.SourceType {
	switch strategy {
	case StrategyInfrastructure:
		return classify.Infrastructure
	case StrategyConfiguration:
		return classify.Configuration
	case StrategyCode:
		if strings.HasSuffix(path, ".sh") {
			return classify.Shell
		}
		return classify.Python
	}
	return classify.Documentation
}

// ProcessContent applies the strategy to one file body. The boolean is false
// when the content does not reference the database or already carries the
// banner.
func (p *Processor) ProcessContent(path, content, database string) (string, Strategy, bool) {
	strategy := p.StrategyFor(path)
	if rules.HasHeader(content) {
		return content, strategy, false
	}

	pattern := repopack.IdentifierPattern(database)
	if !pattern.MatchString(content) {
		return content, strategy, false
	}

	sourceType := sourceTypeFor(strategy, path)
	prefix, suffix := sourceType.CommentTokens()

	commentLine := func(line string) string {
		i := 0
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		indent, rest := line[:i], line[i:]
		if rest == "" || strings.HasPrefix(rest, prefix) {
			return line
		}
		if suffix != "" {
			return indent + prefix + " " + rest + " " + suffix
		}
		return indent + prefix + " " + rest
	}

	lines := strings.Split(content, "\n")
	var out []string

	switch strategy {
	case StrategyInfrastructure, StrategyConfiguration:
		for _, line := range lines {
			if pattern.MatchString(line) {
				out = append(out, commentLine(line))
			} else {
				out = append(out, line)
			}
		}

	case StrategyCode:
		out = append(out, p.guardSnippet(sourceType, database)...)
		for _, line := range lines {
			if pattern.MatchString(line) {
				out = append(out, commentLine(line))
			} else {
				out = append(out, line)
			}
		}

	default: // documentation: banner only, prose untouched
		out = lines
	}

	rewritten := p.header.Render(database, sourceType) + strings.Join(out, "\n")
	return rewritten, strategy, true
}

// guardSnippet is the fail-fast stanza injected at the top of code files.
func (p *Processor) guardSnippet(sourceType classify.SourceType, database string) []string {
	message := fmt.Sprintf("Database %s was decommissioned on %s; contact %s",
		database, p.header.Date.Format("2006-01-02"), p.header.Contact)

	if sourceType == classify.Shell {
		return []string{
			fmt.Sprintf("echo %q >&2", message),
			"exit 1",
			"",
		}
	}

	ident := strings.Map(func(r rune) rune {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, database)
	return []string{
		fmt.Sprintf("def %s_decommissioned():", ident),
		fmt.Sprintf("    raise RuntimeError(%q)", message),
		"",
		fmt.Sprintf("%s_decommissioned()", ident),
		"",
	}
}

// TreeResult is the outcome of processing one directory tree.
type TreeResult struct {
	SourceDir  string   `json:"source_dir"`
	OutputDir  string   `json:"output_dir"`
	Processed  []string `json:"processed,omitempty"`
	Skipped    int      `json:"skipped"`
	Strategies map[Strategy]int
}

// ProcessTree walks sourceDir and writes rewritten copies of every file
// referencing the database into the sibling <sourceDir>_decommissioned tree,
// preserving structure. Files without references are skipped, not copied.
func (p *Processor) ProcessTree(sourceDir, database string) (*TreeResult, error) {
	outputDir := strings.TrimRight(sourceDir, "/") + DecommissionedSuffix
	result := &TreeResult{
		SourceDir:  sourceDir,
		OutputDir:  outputDir,
		Strategies: map[Strategy]int{},
	}

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		rewritten, strategy, changed := p.ProcessContent(rel, string(data), database)
		if !changed {
			result.Skipped++
			return nil
		}

		dest := filepath.Join(outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, []byte(rewritten), 0o644); err != nil {
			return err
		}

		result.Processed = append(result.Processed, rel)
		result.Strategies[strategy]++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.Info("fallback", "Tree processed", map[string]any{
			"source":    sourceDir,
			"output":    outputDir,
			"processed": len(result.Processed),
			"skipped":   result.Skipped,
		})
	}
	return result, nil
}
