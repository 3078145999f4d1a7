package fs

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"gopkg.in/yaml.v3"

	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/resource"
)

const (
	catalogFile   = "kinds.yml"
	resourcesDir  = "resources"
	yamlExtension = ".yml"
)

// Source reads an already-resolved declaration layout from a filesystem:
// a kinds.yml catalog at the root and multi-document YAML streams under
// resources/. Each document names its kind and carries the raw payload:
//
//	kind: view
//	resource:
//	  id: sales
//	  rows: 10
//
// The same Source serves both local directories and in-memory git
// clones through the billy abstraction.
type Source struct {
	fsys billy.Filesystem
}

func NewSource(baseDir string) *Source {
	return &Source{fsys: osfs.New(baseDir)}
}

// NewSourceFrom wraps an existing filesystem, e.g. a cloned worktree.
func NewSourceFrom(fsys billy.Filesystem) *Source {
	return &Source{fsys: fsys}
}

type catalog struct {
	Kinds []*resource.KindSpec `yaml:"kinds"`
}

// KindSpecs loads and validates the kind catalog.
func (s *Source) KindSpecs() ([]*resource.KindSpec, error) {
	file, err := s.fsys.Open(catalogFile)
	if err != nil {
		return nil, faults.NewTypedError(faults.InternalError,
			fmt.Sprintf("opening kind catalog %q", catalogFile), err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, faults.NewTypedError(faults.InternalError, "reading kind catalog", err)
	}

	var parsed catalog
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, faults.NewTypedError(faults.InternalError, "decoding kind catalog", err)
	}
	for _, spec := range parsed.Kinds {
		if err := spec.Validate(); err != nil {
			return nil, faults.NewTypedError(faults.InternalError, "invalid kind catalog", err)
		}
	}
	return parsed.Kinds, nil
}

type document struct {
	Kind     resource.Kind  `yaml:"kind"`
	Resource map[string]any `yaml:"resource"`

	// Write optionally overrides the payload sent on create/update when
	// the wire shape differs from the compare shape.
	Write map[string]any `yaml:"write"`
}

// Load reads every YAML stream under resources/ in lexical order and
// returns one tagged result per document. Malformed documents become
// drops with a reason; they never abort the load.
func (s *Source) Load() ([]resource.LoadResult, error) {
	names, err := s.streamFiles()
	if err != nil {
		return nil, err
	}

	var results []resource.LoadResult
	for _, name := range names {
		fileResults, err := s.loadStream(name)
		if err != nil {
			return nil, err
		}
		results = append(results, fileResults...)
	}
	return results, nil
}

// ByKind partitions loaded declarations, dropping everything that is not
// a value.
func ByKind(results []resource.LoadResult) map[resource.Kind][]resource.Declaration {
	declared := make(map[resource.Kind][]resource.Declaration)
	for _, result := range results {
		if result.Outcome != resource.LoadValue {
			continue
		}
		kind := result.Declaration.Kind
		declared[kind] = append(declared[kind], result.Declaration)
	}
	return declared
}

func (s *Source) streamFiles() ([]string, error) {
	entries, err := s.fsys.ReadDir(resourcesDir)
	if err != nil {
		return nil, faults.NewTypedError(faults.InternalError,
			fmt.Sprintf("reading declarations directory %q", resourcesDir), err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, yamlExtension) && !strings.HasSuffix(name, ".yaml") {
			continue
		}
		names = append(names, path.Join(resourcesDir, name))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Source) loadStream(name string) ([]resource.LoadResult, error) {
	file, err := s.fsys.Open(name)
	if err != nil {
		return nil, faults.NewTypedError(faults.InternalError,
			fmt.Sprintf("opening declaration stream %q", name), err)
	}
	defer file.Close()

	var results []resource.LoadResult
	decoder := yaml.NewDecoder(file)
	for index := 0; ; index++ {
		var doc document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			results = append(results, resource.Dropped(
				fmt.Sprintf("%s: document %d is not valid YAML: %v", name, index, err)))
			// The decoder cannot resync after a syntax error.
			return results, nil
		}

		switch {
		case doc.Kind == "" && doc.Resource == nil:
			results = append(results, resource.Skipped(
				fmt.Sprintf("%s: document %d is empty", name, index)))
		case doc.Kind == "":
			results = append(results, resource.Dropped(
				fmt.Sprintf("%s: document %d does not name a kind", name, index)))
		case doc.Resource == nil:
			results = append(results, resource.Dropped(
				fmt.Sprintf("%s: document %d has no resource payload", name, index)))
		default:
			results = append(results, resource.Loaded(resource.Declaration{
				Kind:  doc.Kind,
				Raw:   doc.Resource,
				Write: writePayload(doc),
			}))
		}
	}
}

func writePayload(doc document) map[string]any {
	if doc.Write != nil {
		return doc.Write
	}
	return doc.Resource
}
