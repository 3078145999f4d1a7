package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/convergekit/converge/resource"
)

func writeLayout(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestSourceLoadsKindCatalog(t *testing.T) {
	dir := writeLayout(t, map[string]string{
		"kinds.yml": `
kinds:
  - name: view
    identityAttributes: [id]
    supportsUpdate: true
  - name: widget
    identityAttributes: [id]
    dependsOn: [view]
`,
		"resources/empty.yml": "",
	})

	specs, err := NewSource(dir).KindSpecs()
	if err != nil {
		t.Fatalf("KindSpecs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Name != "view" || !specs[0].SupportsUpdate {
		t.Fatalf("unexpected first spec %+v", specs[0])
	}
	if len(specs[1].DependsOn) != 1 || specs[1].DependsOn[0] != "view" {
		t.Fatalf("unexpected dependencies %v", specs[1].DependsOn)
	}
}

func TestSourceRejectsInvalidCatalog(t *testing.T) {
	dir := writeLayout(t, map[string]string{
		"kinds.yml": `
kinds:
  - name: view
`,
	})

	if _, err := NewSource(dir).KindSpecs(); err == nil {
		t.Fatal("expected an error for a spec without identity attributes")
	}
}

func TestSourceLoadsMultiDocumentStreams(t *testing.T) {
	dir := writeLayout(t, map[string]string{
		"resources/views.yml": `
kind: view
resource:
  id: sales
  rows: 10
---
kind: view
resource:
  id: costs
write:
  id: costs
  materialized: true
---
resource:
  id: orphan
---
kind: widget
`,
	})

	results, err := NewSource(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	if results[0].Outcome != resource.LoadValue || results[0].Declaration.Raw["id"] != "sales" {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].Declaration.Write["materialized"] != true {
		t.Fatalf("write override not honored: %+v", results[1].Declaration)
	}
	if results[2].Outcome != resource.LoadDrop {
		t.Fatalf("document without kind should drop, got %+v", results[2])
	}
	if results[3].Outcome != resource.LoadDrop {
		t.Fatalf("document without payload should drop, got %+v", results[3])
	}

	declared := ByKind(results)
	if len(declared["view"]) != 2 {
		t.Fatalf("expected 2 view declarations, got %d", len(declared["view"]))
	}
}

func TestSourceReadsFilesInLexicalOrder(t *testing.T) {
	dir := writeLayout(t, map[string]string{
		"resources/b.yml":    "kind: view\nresource:\n  id: second\n",
		"resources/a.yml":    "kind: view\nresource:\n  id: first\n",
		"resources/skip.txt": "not yaml",
	})

	results, err := NewSource(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Declaration.Raw["id"] != "first" || results[1].Declaration.Raw["id"] != "second" {
		t.Fatalf("files not read in lexical order: %+v", results)
	}
}
