package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
)

func newFixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"kinds.yml": `
kinds:
  - name: view
    identityAttributes: [id]
`,
		"resources/views.yml": `
kind: view
resource:
  id: sales
`,
	}
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if err := worktree.AddGlob("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err = worktree.Commit("declarations", &gogit.CommitOptions{
		Author: &object.Signature{Name: "fixture", Email: "fixture@local", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return dir
}

func TestNewSourceClonesIntoMemory(t *testing.T) {
	repoDir := newFixtureRepo(t)

	source, err := NewSource(context.Background(), Options{URL: repoDir})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	specs, err := source.KindSpecs()
	if err != nil {
		t.Fatalf("KindSpecs: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "view" {
		t.Fatalf("unexpected specs %+v", specs)
	}

	results, err := source.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != resource.LoadValue {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Declaration.Raw["id"] != "sales" {
		t.Fatalf("unexpected declaration %+v", results[0].Declaration)
	}
}

func TestNewSourceRequiresURL(t *testing.T) {
	_, err := NewSource(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected an error for a missing URL")
	}
	if !faults.IsCategory(err, faults.InternalError) {
		t.Fatalf("unexpected category: %v", err)
	}
}
