// Package repopack reads and writes packed-repository archives: single-file
// XML-ish containers holding every file of a repository, as produced by the
// packer tool server. The format is bespoke and its bodies are unescaped, so
// parsing is tolerant and line-oriented rather than a strict XML decode.
package repopack

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// File is one entry of a packed archive.
type File struct {
	// Path is the repository-relative path.
	Path string

	// Content is the file body. Empty for entries whose body could not be
	// decoded.
	Content string

	// Binary marks entries whose body was base64 or not valid UTF-8; such
	// entries are carried through but never scanned.
	Binary bool
}

// Archive is one parsed packed repository.
type Archive struct {
	URL      string
	PackedAt string
	Files    []File
}

var (
	repoOpenPattern = regexp.MustCompile(`<repository\b([^>]*)>`)
	fileOpenPattern = regexp.MustCompile(`<file\s+path="([^"]*)"(?:\s+encoding="([^"]*)")?\s*>`)
	attrPattern     = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
	fileClose  = "</file>"
)

// Parse reads an archive. Unreadable bodies (bad base64, invalid UTF-8) are
// kept as binary entries instead of aborting the parse; a missing repository
// element is tolerated and yields an archive without metadata.
func Parse(r io.Reader) (*Archive, error) {
	archive := &Archive{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var (
		inFile   bool
		path     string
		encoding string
		body     strings.Builder
	)

	flush := func() {
		content := body.String()
		body.Reset()

		content = strings.TrimPrefix(content, cdataOpen)
		content = strings.TrimSuffix(content, cdataClose)

		file := File{Path: path}
		switch {
		case encoding == "base64":
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
			if err != nil || !utf8.Valid(decoded) {
				file.Binary = true
			} else {
				file.Content = string(decoded)
			}
		case !utf8.ValidString(content):
			file.Binary = true
		default:
			file.Content = content
		}
		archive.Files = append(archive.Files, file)
	}

	for scanner.Scan() {
		line := scanner.Text()

		if inFile {
			if idx := strings.Index(line, fileClose); idx >= 0 {
				if idx > 0 {
					if body.Len() > 0 {
						body.WriteByte('\n')
					}
					body.WriteString(line[:idx])
				}
				flush()
				inFile = false
				continue
			}
			if body.Len() > 0 {
				body.WriteByte('\n')
			}
			body.WriteString(line)
			continue
		}

		if m := fileOpenPattern.FindStringSubmatchIndex(line); m != nil {
			path = line[m[2]:m[3]]
			encoding = ""
			if m[4] >= 0 {
				encoding = line[m[4]:m[5]]
			}

			rest := line[m[1]:]
			if idx := strings.Index(rest, fileClose); idx >= 0 {
				// Single-line entry.
				body.WriteString(rest[:idx])
				flush()
			} else {
				body.WriteString(rest)
				inFile = true
			}
			continue
		}

		if m := repoOpenPattern.FindStringSubmatch(line); m != nil {
			for _, attr := range attrPattern.FindAllStringSubmatch(m[1], -1) {
				switch attr[1] {
				case "url":
					archive.URL = attr[2]
				case "packed_at":
					archive.PackedAt = attr[2]
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	if inFile {
		// Truncated archive: keep what was read of the last entry.
		flush()
	}

	return archive, nil
}

// ParseFile reads an archive from disk.
func ParseFile(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Write serializes an archive. Text bodies are wrapped in CDATA; binary
// entries are omitted, matching packers that skip unreadable files.
func Write(w io.Writer, archive *Archive) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, `<repository url="%s" packed_at="%s">`+"\n", archive.URL, archive.PackedAt)
	for _, file := range archive.Files {
		if file.Binary {
			continue
		}
		fmt.Fprintf(bw, `  <file path="%s">%s%s%s</file>`+"\n", file.Path, cdataOpen, file.Content, cdataClose)
	}
	fmt.Fprintln(bw, "</repository>")

	return bw.Flush()
}

// Find returns the entry at path, nil when absent.
func (a *Archive) Find(path string) *File {
	for i := range a.Files {
		if a.Files[i].Path == path {
			return &a.Files[i]
		}
	}
	return nil
}

// TextFiles returns the non-binary entries.
func (a *Archive) TextFiles() []File {
	out := make([]File, 0, len(a.Files))
	for _, file := range a.Files {
		if !file.Binary {
			out = append(out, file)
		}
	}
	return out
}
