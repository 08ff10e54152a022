package fileset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

func writePersonaFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestNewLoadsPersonasAndSortsByName(t *testing.T) {
	dir := t.TempDir()
	writePersonaFile(t, dir, "turing.yaml", `
id: turing
name: Alan Turing
system_prompt: You are Alan Turing.
temperature: 0.5
`)
	writePersonaFile(t, dir, "ada.yaml", `
id: ada
name: Ada Lovelace
title: Mathematician
system_prompt: You are Ada Lovelace.
max_tokens: 900
`)
	writePersonaFile(t, dir, "notes.txt", "not a persona")

	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	personas, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(personas) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(personas))
	}
	if personas[0].ID != "ada" || personas[1].ID != "turing" {
		t.Fatalf("expected name-sorted order, got %s, %s", personas[0].ID, personas[1].ID)
	}
	if personas[0].Title != "Mathematician" || personas[0].MaxTokens != 900 {
		t.Fatalf("unexpected persona fields: %+v", personas[0])
	}
}

func TestNewDefaultsIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	writePersonaFile(t, dir, "curie.yml", `
name: Marie Curie
system_prompt: You are Marie Curie.
`)

	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p, err := store.GetByID(context.Background(), "curie")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if p.Name != "Marie Curie" {
		t.Fatalf("unexpected persona: %+v", p)
	}
}

func TestGetByIDUnknownReturnsDomainNotFound(t *testing.T) {
	dir := t.TempDir()
	writePersonaFile(t, dir, "ada.yaml", `
name: Ada Lovelace
system_prompt: You are Ada Lovelace.
`)

	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = store.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
}

func TestNewRejectsMissingSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	writePersonaFile(t, dir, "empty.yaml", `
name: Empty Persona
`)

	if _, err := New(dir); err == nil {
		t.Fatalf("expected error for missing system_prompt")
	}
}
