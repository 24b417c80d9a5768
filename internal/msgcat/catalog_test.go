package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := c.Render("game.hosted", map[string]any{"When": "tonight", "ReservationID": int64(7)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(text, "#7") {
		t.Fatalf("text = %q", text)
	}

	if _, err := c.Render("no.such.key", nil); err == nil {
		t.Fatal("Render of unknown key succeeded")
	}
}

func TestRenderMissingDataFails(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("game.hosted", map[string]any{"When": "tonight"}); err == nil {
		t.Fatal("Render with missing template data succeeded")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "game:\n  hosted: \"custom {{.ReservationID}}\"\n"
	if err := os.WriteFile(filepath.Join(dir, "10-custom.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := c.Render("game.hosted", map[string]any{"ReservationID": int64(9)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if text != "custom 9" {
		t.Fatalf("text = %q", text)
	}

	// A default key the override never touched survives.
	if _, err := c.Render("error.duplicate_slot", nil); err != nil {
		t.Fatalf("default key lost: %v", err)
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("game:\n  hosted: x\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatal("duplicate override keys accepted")
	}
}
