// Package composition validates catalogs of composable content and renders
// compositions of ordered segments into target files.
//
// A catalog is a declared DAG over content entries. Validation checks that
// every dependency resolves, that the graph is acyclic and that declared
// checksums match the content. Validation never writes anything and always
// runs before a composition is rendered.
package composition

import (
	"context"
	"fmt"
	"sort"

	"github.com/sif-factory/sif/pkg/engine"
)

// DefaultTargetFile is the file a composition renders into when none is set.
const DefaultTargetFile = "CLAUDE.md"

// Segment is a reusable piece of content.
type Segment struct {
	ID          string   `json:"id" yaml:"id" validate:"required"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Content     string   `json:"content" yaml:"content"`
	Variant     string   `json:"variant,omitempty" yaml:"variant,omitempty"`
	Section     string   `json:"section,omitempty" yaml:"section,omitempty"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Required segments cannot be disabled in a composition.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Condition is a Starlark expression over the render variables. The
	// segment is rendered only when it evaluates to true.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Item places a segment in a composition.
type Item struct {
	SegmentID string `json:"segment_id" yaml:"segment" validate:"required"`
	Position  int    `json:"position" yaml:"position"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`

	// Override replaces the segment content in this composition only.
	Override string `json:"override,omitempty" yaml:"override,omitempty"`
}

// Composition is an ordered selection of segments rendered into one file.
type Composition struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Variant     string `json:"variant" yaml:"variant"`
	TargetFile  string `json:"target_file,omitempty" yaml:"target_file,omitempty"`
	Items       []Item `json:"items" yaml:"items" validate:"dive"`
}

// Target returns the file the composition renders into.
func (c *Composition) Target() string {
	if c.TargetFile == "" {
		return DefaultTargetFile
	}
	return c.TargetFile
}

// Ordered returns the items sorted by position.
func (c *Composition) Ordered() []Item {
	items := append([]Item(nil), c.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items
}

// CatalogEntry is a node of the content DAG.
type CatalogEntry struct {
	Path         string   `json:"path" yaml:"path" validate:"required"`
	Required     bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Checksum is the declared hex sha256 of the entry's content. Empty skips the check.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Catalog holds segments, compositions and the content DAG.
type Catalog struct {
	Segments     map[string]*Segment
	Compositions map[string]*Composition
	Entries      []CatalogEntry

	// ContentRoot, when set, resolves entries that are not segment IDs to
	// files under this directory.
	ContentRoot string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Segments:     make(map[string]*Segment),
		Compositions: make(map[string]*Composition),
	}
}

// AddSegment adds or replaces a segment.
func (c *Catalog) AddSegment(s *Segment) {
	c.Segments[s.ID] = s
}

// AddComposition adds or replaces a composition.
func (c *Catalog) AddComposition(comp *Composition) {
	c.Compositions[comp.ID] = comp
}

// Composition returns a composition by ID.
func (c *Catalog) Composition(id string) (*Composition, error) {
	comp, ok := c.Compositions[id]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("composition not found: %s", id), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(id)
	}
	return comp, nil
}

// Contents returns the content source for the catalog's entries.
func (c *Catalog) Contents() ContentSource {
	return catalogContents{catalog: c}
}

// LoadCatalog implements Source.
func (c *Catalog) LoadCatalog(context.Context) (*Catalog, error) {
	return c, nil
}

// Source provides the catalog to render from.
type Source interface {
	LoadCatalog(ctx context.Context) (*Catalog, error)
}
