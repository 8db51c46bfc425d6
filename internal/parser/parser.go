// Package parser validates source paths and extracts their text content.
package parser

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rcliao/ragmcp/internal/errs"
	"github.com/rcliao/ragmcp/internal/model"
)

// denylist characters could be interpreted by the store's full-text filter
// language; rejecting them outright is simpler and safer than escaping.
const denylist = "'\"\\`;"

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// languageByExt maps a file extension to a language hint surfaced with the
// extracted text.
var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".jsx":  "javascript",
	".tsx":  "typescript",
	".java": "java",
	".rs":   "rust",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".md":   "markdown",
	".txt":  "text",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".sh":   "shell",
	".sql":  "sql",
}

// Parser validates and extracts text from filesystem paths confined to a
// configured root directory, plus memory:// synthetic source labels.
type Parser struct {
	rootDir string
}

// New builds a Parser confined to rootDir. rootDir should already be
// absolute; relative roots are resolved against the process's working
// directory.
func New(rootDir string) (*Parser, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeValidation, "invalid root directory", false)
	}
	return &Parser{rootDir: abs}, nil
}

// Validate rejects paths that escape the configured root, carry characters
// the store's filter language could interpret, or — for memory:// sources —
// carry a malformed label.
func (p *Parser) Validate(path string) error {
	if path == "" {
		return errs.NewError(errs.CodeValidation, "path must not be empty", false)
	}

	if model.IsMemoryPath(path) {
		label := model.MemoryLabel(path)
		if label == "" || !labelPattern.MatchString(label) {
			return errs.NewError(errs.CodeValidation, "memory label must be non-empty and contain only letters, digits, '.', '_', or '-'", false)
		}
		return nil
	}

	for _, r := range path {
		if r < 32 || r == 127 {
			return errs.NewError(errs.CodeValidation, "path must not contain control characters", false)
		}
		if strings.ContainsRune(denylist, r) {
			return errs.NewError(errs.CodeValidation, "path must not contain quote, backslash, or semicolon characters", false)
		}
	}

	abs, err := filepath.Abs(filepath.Join(p.rootDir, path))
	if err != nil {
		return errs.Wrap(err, errs.CodeValidation, "path could not be resolved", false)
	}
	rel, err := filepath.Rel(p.rootDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errs.NewError(errs.CodeValidation, "path escapes the configured root directory", false)
	}
	return nil
}

// Parse reads and returns the text content of path plus a language hint
// derived from its extension. Callers must call Validate first.
func (p *Parser) Parse(path string) (text string, language string, err error) {
	if model.IsMemoryPath(path) {
		return "", "", errs.NewError(errs.CodeParse, "memory:// sources have no file content to parse", false)
	}

	full := filepath.Join(p.rootDir, path)
	data, readErr := os.ReadFile(full)
	if readErr != nil {
		return "", "", errs.Wrap(readErr, errs.CodeParse, "failed to read file: "+readErr.Error(), false)
	}

	ext := strings.ToLower(filepath.Ext(path))
	lang, known := languageByExt[ext]
	if !known {
		return "", "", errs.NewError(errs.CodeParse, "unsupported file extension: "+ext, false)
	}

	return string(data), lang, nil
}
