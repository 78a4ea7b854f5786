package classify

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// suffixRule maps a path suffix to a source type with a base confidence.
type suffixRule struct {
	Type       SourceType
	Hint       string
	Confidence float64
}

// knownSuffixes maps lowercase file extensions to their classification.
// YAML is deliberately ambiguous (0.5): content sniffing decides between
// plain configuration and Kubernetes manifests.
var knownSuffixes = map[string]suffixRule{
	".tf":     {Type: Infrastructure, Hint: "terraform", Confidence: 1.0},
	".tfvars": {Type: Infrastructure, Hint: "terraform", Confidence: 1.0},
	".sql":    {Type: SQL, Confidence: 1.0},
	".dump":   {Type: SQL, Confidence: 1.0},
	".bak":    {Type: SQL, Confidence: 1.0},
	".py":     {Type: Python, Confidence: 1.0},
	".sh":     {Type: Shell, Confidence: 1.0},
	".yml":    {Type: Configuration, Confidence: 0.5},
	".yaml":   {Type: Configuration, Confidence: 0.5},
	".json":   {Type: Configuration, Confidence: 1.0},
	".ini":    {Type: Configuration, Confidence: 1.0},
	".toml":   {Type: Configuration, Confidence: 1.0},
	".md":     {Type: Documentation, Confidence: 1.0},
	".rst":    {Type: Documentation, Confidence: 1.0},
	".txt":    {Type: Documentation, Confidence: 1.0},
}

// helmPatterns match paths that belong to a Helm chart regardless of suffix.
var helmPatterns = []string{
	"**/Chart.yaml",
	"Chart.yaml",
	"**/values*.yaml",
	"values*.yaml",
	"**/templates/**",
	"templates/**",
}

// Classify determines the source type of a file from its path and content.
// Content may be nil when only the path is available; confidence is then
// capped at the path rule's base value.
func Classify(path string, content []byte) Classification {
	base := filepath.Base(path)
	norm := filepath.ToSlash(path)

	// Helm chart layout wins over the generic YAML suffix.
	for _, pattern := range helmPatterns {
		if ok, _ := doublestar.Match(pattern, norm); ok {
			return Classification{
				Type:           Infrastructure,
				FrameworkHints: []string{"helm"},
				Confidence:     1.0,
			}
		}
	}

	// Env files have no extension worth switching on.
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return Classification{Type: Configuration, Confidence: 1.0}
	}

	ext := strings.ToLower(filepath.Ext(base))
	rule, ok := knownSuffixes[ext]
	if !ok {
		return Classification{Type: Unknown, Confidence: 0.0}
	}

	c := Classification{Type: rule.Type, Confidence: rule.Confidence}
	if rule.Hint != "" {
		c.FrameworkHints = []string{rule.Hint}
	}
	if len(content) == 0 || !utf8.Valid(content) {
		return c
	}
	return sniffContent(c, ext, content)
}

// sniffContent refines a path-based classification using file content.
func sniffContent(c Classification, ext string, content []byte) Classification {
	switch c.Type {
	case Configuration:
		if ext != ".yml" && ext != ".yaml" {
			return c
		}
		if isKubernetesManifest(content) {
			return Classification{
				Type:           Infrastructure,
				FrameworkHints: []string{"k8s"},
				Confidence:     0.8,
			}
		}
		// Plain YAML confirmed as configuration by content.
		c.Confidence = 0.8
		return c

	case Python:
		text := string(content)
		if strings.Contains(text, "from django") || strings.Contains(text, "import django") {
			c.FrameworkHints = append(c.FrameworkHints, "django")
		}
		if strings.Contains(text, "from flask") || strings.Contains(text, "import flask") {
			c.FrameworkHints = append(c.FrameworkHints, "flask")
		}
		return c
	}
	return c
}

// k8sProbe captures the two fields every Kubernetes manifest carries.
type k8sProbe struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
}

// isKubernetesManifest reports whether YAML content is a Kubernetes manifest
// (both apiVersion and kind present at the top level). Falls back to a line
// scan when the document does not decode cleanly.
func isKubernetesManifest(content []byte) bool {
	var probe k8sProbe
	if err := yaml.Unmarshal(content, &probe); err == nil {
		return probe.APIVersion != "" && probe.Kind != ""
	}

	hasAPIVersion, hasKind := false, false
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "apiVersion:") {
			hasAPIVersion = true
		}
		if strings.HasPrefix(trimmed, "kind:") {
			hasKind = true
		}
		if hasAPIVersion && hasKind {
			return true
		}
	}
	return false
}
