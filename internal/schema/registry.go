package schema

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/resident-x/go-v2blocks/internal/codec"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/*.yaml
var layoutFS embed.FS

// LayoutSelector holds one block's layouts ordered most specific version first.
type LayoutSelector struct {
	Block   BlockSchema
	layouts []FieldLayout
}

// Select returns the layout with the greatest min version not above version.
func (s *LayoutSelector) Select(version int) (*FieldLayout, bool) {
	for i := range s.layouts {
		if s.layouts[i].MinVersion <= version {
			return &s.layouts[i], true
		}
	}
	return nil, false
}

// Versions returns the min versions in descending order.
func (s *LayoutSelector) Versions() []int {
	out := make([]int, len(s.layouts))
	for i, l := range s.layouts {
		out[i] = l.MinVersion
	}
	return out
}

// Registry maps block ids to layout selectors. It is built once and only read
// afterwards, so lookups need no locking.
type Registry struct {
	selectors map[uint16]*LayoutSelector
}

// NewRegistry validates the tables and builds a registry from them.
func NewRegistry(blocks []BlockSchema) (*Registry, error) {
	r := &Registry{selectors: make(map[uint16]*LayoutSelector, len(blocks))}
	for i := range blocks {
		b := blocks[i]
		b.Layouts = append([]FieldLayout(nil), b.Layouts...)
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.selectors[b.Block]; dup {
			return nil, fmt.Errorf("block %d declared twice", b.Block)
		}
		sortLayouts(b.Layouts)
		r.selectors[b.Block] = &LayoutSelector{Block: b, layouts: b.Layouts}
	}
	return r, nil
}

// Lookup returns the layout for a block at a protocol version. It fails with
// codec.ErrUnknownBlock when the block has no table and with
// codec.ErrUnsupportedVersion when every layout needs a newer version.
func (r *Registry) Lookup(blockID uint16, version int) (*FieldLayout, error) {
	sel, ok := r.selectors[blockID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", codec.ErrUnknownBlock, blockID)
	}
	layout, ok := sel.Select(version)
	if !ok {
		return nil, fmt.Errorf("%w: block %d needs version >= %d, got %d",
			codec.ErrUnsupportedVersion, blockID, sel.layouts[len(sel.layouts)-1].MinVersion, version)
	}
	return layout, nil
}

// Selector returns the selector of a block.
func (r *Registry) Selector(blockID uint16) (*LayoutSelector, bool) {
	sel, ok := r.selectors[blockID]
	return sel, ok
}

// Blocks returns the registered block ids in ascending order.
func (r *Registry) Blocks() []uint16 {
	ids := make([]uint16, 0, len(r.selectors))
	for id := range r.selectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Writable reports whether a block may be written back to a device.
func (r *Registry) Writable(blockID uint16) bool {
	sel, ok := r.selectors[blockID]
	return ok && sel.Block.Writable
}

// Load builds the registry from the embedded tables.
func Load() (*Registry, error) {
	blocks, err := readFS(layoutFS, "layouts")
	if err != nil {
		return nil, err
	}
	return NewRegistry(blocks)
}

// MustLoad is Load for the embedded tables, which are known to be valid.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(fmt.Sprintf("embedded schema tables: %v", err))
	}
	return r
}

// LoadPath builds the registry from a YAML file or a directory of YAML files.
// An empty path loads the embedded tables.
func LoadPath(path string) (*Registry, error) {
	if path == "" {
		return Load()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema path: %w", err)
	}
	if info.IsDir() {
		blocks, err := readFS(os.DirFS(path), ".")
		if err != nil {
			return nil, err
		}
		return NewRegistry(blocks)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	blocks, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return NewRegistry(blocks)
}

// Parse reads one or more YAML documents, each holding one block table.
func Parse(data []byte) ([]BlockSchema, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var blocks []BlockSchema
	for {
		var b BlockSchema
		err := dec.Decode(&b)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func readFS(fsys fs.FS, dir string) ([]BlockSchema, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	var blocks []BlockSchema
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		blocks = append(blocks, parsed...)
	}
	return blocks, nil
}
