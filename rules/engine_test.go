package rules

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/dbworkflow/classify"
	"github.com/c360studio/dbworkflow/repopack"
)

func testHeader() Header {
	return Header{
		Date:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Strategy: "contextual-rules",
		Ticket:   "DBA-1234",
		Contact:  "dba-team",
	}
}

func process(t *testing.T, mf repopack.MatchedFile, database string) (string, FileResult) {
	t.Helper()
	e := NewEngine(WithHeader(testHeader()))
	return e.ProcessFile(context.Background(), mf, database)
}

func TestProcessFilePythonRaiseInjection(t *testing.T) {
	mf := repopack.MatchedFile{
		OriginalPath: "app/db.py",
		SourceType:   classify.Python,
		Content: strings.Join([]string{
			"import psycopg2",
			"",
			"def connect_to_postgres_air():",
			"    conn = psycopg2.connect(\"postgres_air\")",
			"    return conn",
			"",
			"def unrelated():",
			"    return 1",
		}, "\n"),
	}

	content, fr := process(t, mf, "postgres_air")
	require.True(t, fr.Changed)
	assert.Contains(t, fr.RulesApplied, "python-raise")

	lines := strings.Split(content, "\n")
	// Banner first, then the original import untouched.
	assert.Contains(t, lines[0], "DATABASE DECOMMISSIONED")
	assert.Contains(t, content, "import psycopg2")

	// The touched function keeps its signature, gains a raise, and its
	// original body survives as comments.
	assert.Contains(t, content, "def connect_to_postgres_air():")
	assert.Contains(t, content, `    raise RuntimeError("Database postgres_air was decommissioned on 2025-06-01; contact dba-team")`)
	assert.Contains(t, content, "    # conn = psycopg2.connect(\"postgres_air\")")

	// The untouched function is untouched.
	assert.Contains(t, content, "def unrelated():\n    return 1")
}

func TestProcessFileHeaderIdempotence(t *testing.T) {
	mf := repopack.MatchedFile{
		OriginalPath: "conf/app.yaml",
		SourceType:   classify.Configuration,
		Content:      "database: postgres_air\n",
	}

	e := NewEngine(WithHeader(testHeader()))
	first, fr := e.ProcessFile(context.Background(), mf, "postgres_air")
	require.True(t, fr.Changed)
	assert.Equal(t, 1, strings.Count(first, "DATABASE DECOMMISSIONED"))

	// Re-processing the rewritten file is a no-op.
	mf.Content = first
	second, fr2 := e.ProcessFile(context.Background(), mf, "postgres_air")
	assert.True(t, fr2.Skipped)
	assert.False(t, fr2.Changed)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, strings.Count(second, "DATABASE DECOMMISSIONED"))
}

func TestProcessFileYAMLBlockCommenting(t *testing.T) {
	mf := repopack.MatchedFile{
		OriginalPath: "conf/databases.yaml",
		SourceType:   classify.Configuration,
		Content: strings.Join([]string{
			"postgres_air:",
			"  host: db.internal",
			"  port: 5432",
			"other_db:",
			"  host: elsewhere",
		}, "\n"),
	}

	content, fr := process(t, mf, "postgres_air")
	require.True(t, fr.Changed)

	assert.Contains(t, content, "# postgres_air:")
	assert.Contains(t, content, "  # host: db.internal")
	assert.Contains(t, content, "  # port: 5432")
	assert.Contains(t, content, "other_db:\n  host: elsewhere")
}

func TestProcessFileTerraformBraceBlock(t *testing.T) {
	mf := repopack.MatchedFile{
		OriginalPath: "infra/main.tf",
		SourceType:   classify.Infrastructure,
		Content: strings.Join([]string{
			`resource "aws_db_instance" "postgres_air" {`,
			`  engine = "postgres"`,
			`  name   = "postgres_air"`,
			`}`,
			``,
			`resource "aws_s3_bucket" "assets" {`,
			`  bucket = "assets"`,
			`}`,
		}, "\n"),
	}

	content, fr := process(t, mf, "postgres_air")
	require.True(t, fr.Changed)

	assert.Contains(t, content, `# resource "aws_db_instance" "postgres_air" {`)
	assert.Contains(t, content, `# engine = "postgres"`)
	assert.Contains(t, content, "# }")
	assert.Contains(t, content, "resource \"aws_s3_bucket\" \"assets\" {\n  bucket = \"assets\"\n}")
}

func TestProcessFileDocumentationNotice(t *testing.T) {
	mf := repopack.MatchedFile{
		OriginalPath: "README.md",
		SourceType:   classify.Documentation,
		Content:      "The app reads from postgres_air nightly.\n",
	}

	content, fr := process(t, mf, "postgres_air")
	require.True(t, fr.Changed)
	assert.Contains(t, fr.RulesApplied, "docs-notice")

	assert.Contains(t, content, "<!-- DEPRECATED: references decommissioned database postgres_air -->")
	// The original prose survives directly below the notice.
	assert.Contains(t, content, "-->\nThe app reads from postgres_air nightly.")
}

func TestProcessFileSQLCommentToken(t *testing.T) {
	mf := repopack.MatchedFile{
		OriginalPath: "migrations/001.sql",
		SourceType:   classify.SQL,
		Content:      "USE postgres_air;\nSELECT 1;\n",
	}

	content, fr := process(t, mf, "postgres_air")
	require.True(t, fr.Changed)
	assert.Contains(t, content, "-- USE postgres_air;")
	assert.Contains(t, content, "\nSELECT 1;")
	// The banner uses the SQL comment token too.
	assert.True(t, strings.HasPrefix(content, "-- DATABASE DECOMMISSIONED"))
}

func TestProcessFileUnknownTypeGetsNotice(t *testing.T) {
	mf := repopack.MatchedFile{
		OriginalPath: "Makefile",
		Content:      "migrate:\n\tpsql postgres_air < schema.sql\n",
	}

	content, fr := process(t, mf, "postgres_air")
	assert.Equal(t, classify.Unknown, fr.SourceType)
	assert.Contains(t, content, "DEPRECATED: references decommissioned database postgres_air")
}

func TestDeleteLineAction(t *testing.T) {
	e := NewEngine(WithHeader(testHeader()), WithOverlay([]Rule{{
		ID:        "infra-comment-block",
		AppliesTo: []classify.SourceType{classify.Infrastructure},
		Pattern:   `\b{{db}}\b`,
		Action:    ActionDeleteLine,
		Priority:  100,
	}}))

	mf := repopack.MatchedFile{
		OriginalPath: "infra/outputs.tf",
		SourceType:   classify.Infrastructure,
		Content:      "output_a = module.postgres_air.arn\noutput_b = module.other.arn\n",
	}

	content, fr := e.ProcessFile(context.Background(), mf, "postgres_air")
	require.True(t, fr.Changed)
	assert.NotContains(t, content, "output_a")
	assert.Contains(t, content, "output_b = module.other.arn")
}

func TestOverlayReplacesAndExtends(t *testing.T) {
	e := NewEngine(WithOverlay([]Rule{
		{
			ID:        "docs-notice",
			AppliesTo: []classify.SourceType{classify.Documentation},
			Pattern:   `\b{{db}}\b`,
			Action:    ActionInsertNotice,
			// Custom text replaces the built-in default.
			Replacement: "moved to warehouse",
			Priority:    100,
		},
		{
			ID:        "django-extra",
			AppliesTo: []classify.SourceType{classify.Python},
			Frameworks: []string{
				"django",
			},
			Pattern:  `DATABASES\s*=`,
			Action:   ActionInsertNotice,
			Priority: 200,
		},
	}))

	ids := map[string]int{}
	for _, r := range e.Rules() {
		ids[r.ID]++
	}
	assert.Equal(t, 1, ids["docs-notice"], "overlay replaces same-id builtin")
	assert.Equal(t, 1, ids["django-extra"])

	// Highest priority first.
	assert.Equal(t, "django-extra", e.Rules()[0].ID)
}

func TestFrameworkFilteredRule(t *testing.T) {
	e := NewEngine(WithHeader(testHeader()), WithOverlay([]Rule{{
		ID:          "django-settings",
		AppliesTo:   []classify.SourceType{classify.Python},
		Frameworks:  []string{"django"},
		Pattern:     `'NAME':\s*'{{db}}'`,
		Action:      ActionInsertNotice,
		Replacement: "remove this database entry",
		Priority:    200,
	}}))

	mf := repopack.MatchedFile{
		OriginalPath: "settings.py",
		SourceType:   classify.Python,
		Content:      "DATABASES = {\n    'NAME': 'postgres_air',\n}\n",
	}

	// Without the django hint the rule does not fire.
	_, fr := e.ProcessFile(context.Background(), mf, "postgres_air")
	assert.NotContains(t, fr.RulesApplied, "django-settings")

	mf.FrameworkHints = []string{"django"}
	content, fr := e.ProcessFile(context.Background(), mf, "postgres_air")
	assert.Contains(t, fr.RulesApplied, "django-settings")
	assert.Contains(t, content, "# remove this database entry")
}

func TestBranchNameAndCommitMessage(t *testing.T) {
	branch := BranchName("postgres_air", "wf-1234")
	assert.True(t, strings.HasPrefix(branch, "decommission-postgres_air-"))
	short := strings.TrimPrefix(branch, "decommission-postgres_air-")
	assert.Len(t, short, 7)
	assert.Regexp(t, "^[0-9a-f]{7}$", short)

	// Deterministic per workflow id.
	assert.Equal(t, branch, BranchName("postgres_air", "wf-1234"))
	assert.NotEqual(t, branch, BranchName("postgres_air", "wf-5678"))

	msg := CommitMessage(classify.Python, "postgres_air", "app/db.py")
	assert.Equal(t, "decommission(python): remove postgres_air references from app/db.py", msg)
}

func TestHeaderRenderFiveLines(t *testing.T) {
	h := testHeader()

	for _, st := range []classify.SourceType{classify.Python, classify.SQL, classify.Documentation} {
		rendered := h.Render("postgres_air", st)
		lines := strings.Split(strings.TrimRight(rendered, "\n"), "\n")
		require.Len(t, lines, 5, "banner for %s", st)

		prefix, suffix := st.CommentTokens()
		for _, line := range lines {
			assert.True(t, strings.HasPrefix(line, prefix))
			if suffix != "" {
				assert.True(t, strings.HasSuffix(line, suffix))
			}
		}
		assert.Contains(t, lines[0], "2025-06-01")
		assert.Contains(t, lines[1], "contextual-rules")
		assert.Contains(t, lines[2], "DBA-1234")
		assert.Contains(t, lines[3], "dba-team")
	}
}
