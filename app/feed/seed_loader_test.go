package feed

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSeedLoaderLoadsValidSeeds(t *testing.T) {
	tempDir := t.TempDir()

	writeSeed(t, tempDir, "golang.yml", `
url: "https://go.dev/blog/feed.atom"
title: "The Go Blog"
refresh_interval: 120
extract_content: true
`)
	writeSeed(t, tempDir, "talk.yaml", `
url: "https://example.com/podcast.xml"
type: podcast
paused: true
`)

	loader := NewSeedLoader(tempDir)
	if err := loader.Run(); err != nil {
		t.Fatal(err)
	}

	if loader.Count() != 2 {
		t.Fatalf("Expected 2 seeds, got %d", loader.Count())
	}

	seeds := loader.Seeds()
	golang := seeds[0]
	if golang.Name != "golang" {
		t.Errorf("Expected name 'golang', got '%s'", golang.Name)
	}
	if golang.RefreshInterval != 120 {
		t.Errorf("Expected refresh interval 120, got %d", golang.RefreshInterval)
	}
	if !golang.ExtractContent {
		t.Error("Expected extract_content to be true")
	}

	talk := seeds[1]
	if talk.Name != "talk" {
		t.Errorf("Expected name 'talk', got '%s'", talk.Name)
	}
	if talk.RefreshInterval != 60 {
		t.Errorf("Expected default refresh interval 60, got %d", talk.RefreshInterval)
	}
	if !talk.Paused || talk.Type != "podcast" {
		t.Errorf("Expected paused podcast seed, got %+v", talk)
	}
}

func TestSeedLoaderRejectsInvalidSeeds(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing url", `title: "No URL"`},
		{"bad scheme", `url: "ftp://example.com/feed"`},
		{"unknown type", "url: \"https://example.com/feed\"\ntype: newsletter"},
		{"negative interval", "url: \"https://example.com/feed\"\nrefresh_interval: -5"},
		{"broken yaml", "url: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeSeed(t, tempDir, "bad.yml", tt.content)

			if err := NewSeedLoader(tempDir).Run(); err == nil {
				t.Error("Expected error for invalid seed")
			}
		})
	}
}

func TestSeedLoaderMissingDirectory(t *testing.T) {
	loader := NewSeedLoader(filepath.Join(t.TempDir(), "missing"))
	if err := loader.Run(); err != nil {
		t.Errorf("Expected no error for missing directory, got: %v", err)
	}
	if loader.Count() != 0 {
		t.Errorf("Expected no seeds, got %d", loader.Count())
	}
}
