package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "fox.yaml", `
id: fox
name: Fox
url: /images/fox.svg
regions:
  - {id: 1, color: "#ff0000"}
  - {id: 2, color: "#00ff00"}
  - {id: 3, color: "#0000ff"}
`)
	// id falls back to the file name
	writeFile(t, dir, "owl.yml", `
name: Owl
regions:
  - {id: 10, color: "#111111"}
`)
	// duplicate region id is rejected, the rest of the catalog still loads
	writeFile(t, dir, "broken.yaml", `
id: broken
regions:
  - {id: 1, color: "#111111"}
  - {id: 1, color: "#222222"}
`)

	loader := NewLoader()
	if err := loader.LoadFromDir(dir); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	images := loader.List()
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if images[0].ID != "fox" || images[1].ID != "owl" {
		t.Errorf("expected images sorted by id, got %s, %s", images[0].ID, images[1].ID)
	}

	fox, err := loader.RegionsOf("fox")
	if err != nil {
		t.Fatalf("RegionsOf(fox): %v", err)
	}
	if fox.TotalRegions() != 3 {
		t.Errorf("expected 3 regions, got %d", fox.TotalRegions())
	}
	if c, ok := fox.ColorOf(2); !ok || c != "#00ff00" {
		t.Errorf("unexpected color for region 2: %q %v", c, ok)
	}
	if fox.URL != "/images/fox.svg" {
		t.Errorf("unexpected url %q", fox.URL)
	}

	if loader.Get("broken") != nil {
		t.Error("image with duplicate regions should not load")
	}
}

func TestRegionsOfUnknown(t *testing.T) {
	loader := NewLoader()
	_, err := loader.RegionsOf("missing")
	if !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}

func TestLoadFromDirMissing(t *testing.T) {
	loader := NewLoader()
	if err := loader.LoadFromDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
