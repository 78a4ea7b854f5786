package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/dbworkflow/classify"
)

func writeOverlay(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverlay(t *testing.T) {
	path := writeOverlay(t, `
rules:
  - id: custom-sql-drop
    applies_to: [sql]
    pattern: 'DROP\s+DATABASE\s+{{db}}'
    action: delete_line
    priority: 150
  - id: docs-notice
    applies_to: [documentation]
    pattern: '\b{{db}}\b'
    action: insert_deprecation_notice
    replacement: see migration guide
    priority: 100
`)

	rules, err := LoadOverlay(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "custom-sql-drop", rules[0].ID)
	assert.Equal(t, []classify.SourceType{classify.SQL}, rules[0].AppliesTo)
	assert.Equal(t, ActionDeleteLine, rules[0].Action)
	assert.Equal(t, 150, rules[0].Priority)
	assert.Equal(t, "see migration guide", rules[1].Replacement)
}

func TestLoadOverlayRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "rules: []\n"},
		{"missing id", "rules:\n  - applies_to: [sql]\n    pattern: x\n    action: delete_line\n"},
		{"unknown action", "rules:\n  - id: r\n    applies_to: [sql]\n    pattern: x\n    action: obliterate\n"},
		{"unknown source type", "rules:\n  - id: r\n    applies_to: [fortran]\n    pattern: x\n    action: delete_line\n"},
		{"bad pattern", "rules:\n  - id: r\n    applies_to: [sql]\n    pattern: '['\n    action: delete_line\n"},
		{"not yaml", "{{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadOverlay(writeOverlay(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadOverlayMissingFile(t *testing.T) {
	_, err := LoadOverlay(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		ID:        "r1",
		AppliesTo: []classify.SourceType{classify.Python},
		Pattern:   `\b{{db}}\b`,
		Action:    ActionCommentOut,
	}
	assert.NoError(t, valid.Validate())

	noTypes := valid
	noTypes.AppliesTo = nil
	assert.Error(t, noTypes.Validate())

	noPattern := valid
	noPattern.Pattern = ""
	assert.Error(t, noPattern.Validate())
}

func TestBuiltinRulesCoverEverySourceType(t *testing.T) {
	covered := map[classify.SourceType]bool{}
	for _, r := range BuiltinRules() {
		require.NoError(t, r.Validate())
		for _, st := range r.AppliesTo {
			covered[st] = true
		}
	}

	for _, st := range []classify.SourceType{
		classify.Infrastructure, classify.Configuration, classify.SQL,
		classify.Python, classify.Shell, classify.Documentation,
		classify.Mixed, classify.Unknown,
	} {
		assert.True(t, covered[st], "no builtin rule covers %s", st)
	}
}
