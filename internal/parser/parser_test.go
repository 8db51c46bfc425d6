package parser

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate_RejectsEscapingPath(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate("../../etc/passwd"); err == nil {
		t.Error("expected error for path escaping root")
	}
}

func TestValidate_RejectsDenylistedCharacters(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"a'b.txt", `a"b.txt`, "a\\b.txt", "a`b.txt", "a;b.txt", "a\x01b.txt"} {
		if err := p.Validate(bad); err == nil {
			t.Errorf("expected error for path %q", bad)
		}
	}
}

func TestValidate_AcceptsCleanRelativePath(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate("notes/today.md"); err != nil {
		t.Errorf("expected clean path to validate, got %v", err)
	}
}

func TestValidate_MemoryPathRequiresWellFormedLabel(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate("memory://snippet-123"); err != nil {
		t.Errorf("expected well-formed label to validate, got %v", err)
	}
	if err := p.Validate("memory://"); err == nil {
		t.Error("expected empty label to be rejected")
	}
	if err := p.Validate("memory://bad label!"); err == nil {
		t.Error("expected label with spaces/punctuation to be rejected")
	}
}

func TestParse_ExtractsTextAndLanguageHint(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	text, lang, err := p.Parse("main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "package main\n" {
		t.Errorf("unexpected text: %q", text)
	}
	if lang != "go" {
		t.Errorf("expected language hint 'go', got %q", lang)
	}
}

func TestParse_UnsupportedExtensionErrors(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "image.png"), []byte{0, 1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Parse("image.png"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestParse_MemoryPathHasNoFileContent(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Parse("memory://snippet-1"); err == nil {
		t.Error("expected error parsing a memory:// source as a file")
	}
}
