package composition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

// ContentSource returns the content of a catalog entry. found is false when
// the entry has no content available.
type ContentSource interface {
	Content(path string) (data []byte, found bool, err error)
}

// MapContents is a ContentSource backed by a map.
type MapContents map[string][]byte

// Content implements ContentSource.
func (m MapContents) Content(path string) ([]byte, bool, error) {
	data, ok := m[path]
	return data, ok, nil
}

// DirContents reads entry content from files under a root directory.
type DirContents string

// Content implements ContentSource.
func (d DirContents) Content(path string) ([]byte, bool, error) {
	return assets.ReadFile(string(d), path)
}

type catalogContents struct {
	catalog *Catalog
}

func (c catalogContents) Content(path string) ([]byte, bool, error) {
	if s, ok := c.catalog.Segments[path]; ok {
		return []byte(s.Content), true, nil
	}
	if c.catalog.ContentRoot != "" {
		return DirContents(c.catalog.ContentRoot).Content(path)
	}
	return nil, false, nil
}

// Validate checks a catalog of entries. Every dependency must resolve to an
// entry and the dependency graph must be acyclic. When contents is non-nil,
// required entries must have content and declared checksums must match it.
// All problems are reported; match them with errors.Is against engine.ErrOrphanReference,
// engine.ErrCircularDependency and engine.ErrChecksumMismatch.
func Validate(entries []CatalogEntry, contents ContentSource) error {
	var result *multierror.Error

	g := engine.NewGraph()
	for _, e := range entries {
		if e.Path == "" {
			result = multierror.Append(result, engine.NewStructuralError("catalog entry has empty path", nil).
				WithCode(engine.ErrCodeValidation))
			continue
		}
		if g.HasNode(e.Path) {
			result = multierror.Append(result, engine.NewStructuralError(fmt.Sprintf("duplicate catalog entry: %s", e.Path), nil).
				WithCode(engine.ErrCodeValidation).WithResource(e.Path))
			continue
		}
		g.AddNode(e.Path)
	}
	for _, e := range entries {
		for _, dep := range e.Dependencies {
			g.AddDependency(e.Path, dep)
		}
	}

	for _, m := range g.Missing() {
		result = multierror.Append(result, engine.NewStructuralError(
			fmt.Sprintf("%s depends on %s, which is not in the catalog", m.From, m.To), nil,
		).WithCode(engine.ErrCodeOrphanReference).WithResource(m.From).WithDetail("missing", m.To))
	}

	if cycle := g.FindCycle(); cycle != nil {
		result = multierror.Append(result, engine.NewStructuralError(
			fmt.Sprintf("circular dependency: %s", engine.FormatCycle(cycle)), nil,
		).WithCode(engine.ErrCodeCircularDependency).WithDetail("cycle", cycle))
	}

	if contents != nil {
		for _, e := range entries {
			if e.Path == "" || (e.Checksum == "" && !e.Required) {
				continue
			}
			if err := verifyContent(e, contents); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	return result.ErrorOrNil()
}

// verifyContent checks that a required entry has content and that declared
// checksums match.
func verifyContent(e CatalogEntry, contents ContentSource) error {
	data, found, err := contents.Content(e.Path)
	if err != nil {
		return engine.NewPermanentError(fmt.Sprintf("cannot read content of %s", e.Path), err).WithResource(e.Path)
	}
	switch {
	case !found && e.Checksum != "":
		return engine.NewStructuralError(fmt.Sprintf("no content for %s to verify its checksum", e.Path), nil).
			WithCode(engine.ErrCodeChecksumMismatch).WithResource(e.Path).
			WithDetail("expected", e.Checksum)
	case !found:
		return engine.NewStructuralError(fmt.Sprintf("required entry %s has no content", e.Path), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(e.Path)
	case e.Checksum == "":
		return nil
	}
	if actual := assets.Checksum(data); actual != e.Checksum {
		return engine.NewStructuralError(fmt.Sprintf("checksum mismatch for %s", e.Path), nil).
			WithCode(engine.ErrCodeChecksumMismatch).WithResource(e.Path).
			WithDetail("expected", e.Checksum).
			WithDetail("actual", actual)
	}
	return nil
}

// ValidateComposition checks that item positions are unique, that every item
// references a known segment and that required segments stay enabled.
func ValidateComposition(comp *Composition, segments map[string]*Segment) error {
	var result *multierror.Error

	positions := make(map[int]string, len(comp.Items))
	seen := make(map[string]bool, len(comp.Items))

	for _, item := range comp.Ordered() {
		if prev, ok := positions[item.Position]; ok {
			result = multierror.Append(result, engine.NewStructuralError(
				fmt.Sprintf("composition %s: segments %s and %s share position %d", comp.ID, prev, item.SegmentID, item.Position), nil,
			).WithCode(engine.ErrCodeDuplicatePosition).WithResource(comp.ID).WithDetail("position", item.Position))
		} else {
			positions[item.Position] = item.SegmentID
		}

		if seen[item.SegmentID] {
			result = multierror.Append(result, engine.NewStructuralError(
				fmt.Sprintf("composition %s: segment %s listed twice", comp.ID, item.SegmentID), nil,
			).WithCode(engine.ErrCodeValidation).WithResource(comp.ID))
		}
		seen[item.SegmentID] = true

		seg, ok := segments[item.SegmentID]
		if !ok {
			result = multierror.Append(result, engine.NewStructuralError(
				fmt.Sprintf("composition %s references unknown segment %s", comp.ID, item.SegmentID), nil,
			).WithCode(engine.ErrCodeOrphanReference).WithResource(comp.ID).WithDetail("missing", item.SegmentID))
			continue
		}
		if seg.Required && !item.Enabled {
			result = multierror.Append(result, engine.NewStructuralError(
				fmt.Sprintf("composition %s disables required segment %s", comp.ID, item.SegmentID), nil,
			).WithCode(engine.ErrCodeValidation).WithResource(comp.ID))
		}
	}

	return result.ErrorOrNil()
}

// Issues flattens a validation error into its individual problems, sorted by code.
func Issues(err error) []*engine.EngineError {
	if err == nil {
		return nil
	}
	var errs []error
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	} else {
		errs = []error{err}
	}

	issues := make([]*engine.EngineError, 0, len(errs))
	for _, e := range errs {
		var engErr *engine.EngineError
		if errors.As(e, &engErr) {
			issues = append(issues, engErr)
		} else {
			issues = append(issues, engine.NewPermanentError(e.Error(), e))
		}
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Code < issues[j].Code })
	return issues
}
