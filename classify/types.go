// Package classify maps repository files to source types used by the
// decommissioning pipeline. Classification is deterministic: path suffix
// rules first, then content sniffs that can override or refine the result.
package classify

// SourceType identifies the language/framework family of a file.
type SourceType string

const (
	// Infrastructure covers Terraform, Helm charts, and Kubernetes manifests.
	Infrastructure SourceType = "infrastructure"
	// Configuration covers generic config formats (YAML, JSON, INI, TOML, env files).
	Configuration SourceType = "configuration"
	// SQL covers SQL scripts, dumps, and backups.
	SQL SourceType = "sql"
	// Python covers Python source files.
	Python SourceType = "python"
	// Shell covers shell scripts.
	Shell SourceType = "shell"
	// Documentation covers Markdown, reStructuredText, and plain text.
	Documentation SourceType = "documentation"
	// Mixed is an aggregate label used in repository-level summaries when
	// matches span multiple source types. The classifier never emits it for
	// a single file.
	Mixed SourceType = "mixed"
	// Unknown is returned when no rule applies.
	Unknown SourceType = "unknown"
)

// String returns the string representation of the source type.
func (s SourceType) String() string {
	return string(s)
}

// IsValid returns true if the source type is a known value.
func (s SourceType) IsValid() bool {
	switch s {
	case Infrastructure, Configuration, SQL, Python, Shell, Documentation, Mixed, Unknown:
		return true
	default:
		return false
	}
}

// CommentTokens returns the line-comment prefix and suffix for the source
// type. The suffix is empty except for documentation formats that only
// support bracketed comments.
func (s SourceType) CommentTokens() (prefix, suffix string) {
	switch s {
	case SQL:
		return "--", ""
	case Documentation:
		return "<!--", "-->"
	default:
		// Terraform, YAML, Python, Shell, and env-style configs all use #.
		return "#", ""
	}
}

// Classification is the classifier's verdict for one file.
type Classification struct {
	// Type is the detected source type.
	Type SourceType

	// FrameworkHints carries framework tags refined from content
	// (e.g. "helm", "k8s", "django", "flask", "terraform").
	FrameworkHints []string

	// Confidence is 1.0 for unambiguous path matches, 0.8 for
	// content-confirmed results, 0.5 for ambiguous path-only matches,
	// and 0.0 for Unknown.
	Confidence float64
}

// HasHint returns true if the classification carries the given framework hint.
func (c Classification) HasHint(hint string) bool {
	for _, h := range c.FrameworkHints {
		if h == hint {
			return true
		}
	}
	return false
}
