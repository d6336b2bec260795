package composition

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

// ConditionEvaluator decides whether a conditional segment is rendered.
type ConditionEvaluator interface {
	EvaluateCondition(ctx context.Context, expr string, vars map[string]interface{}) (bool, error)
}

// Rendered is the output of rendering a composition.
type Rendered struct {
	CompositionID string   `json:"composition_id"`
	TargetFile    string   `json:"target_file"`
	Content       string   `json:"-"`
	Checksum      string   `json:"checksum"`
	Segments      []string `json:"segments"`
	Skipped       []string `json:"skipped,omitempty"`
}

// Renderer validates and renders compositions.
type Renderer struct {
	source     Source
	conditions ConditionEvaluator
	logger     zerolog.Logger
}

// NewRenderer creates a renderer. conditions may be nil when no segment
// carries a condition.
func NewRenderer(source Source, conditions ConditionEvaluator, logger zerolog.Logger) *Renderer {
	return &Renderer{
		source:     source,
		conditions: conditions,
		logger:     logger.With().Str("component", "composition").Logger(),
	}
}

// Validate validates the whole catalog and every composition in it.
func (r *Renderer) Validate(ctx context.Context) error {
	catalog, err := r.source.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	if err := Validate(catalog.Entries, catalog.Contents()); err != nil {
		return err
	}
	for _, id := range sortedKeys(catalog.Compositions) {
		if err := ValidateComposition(catalog.Compositions[id], catalog.Segments); err != nil {
			return err
		}
	}
	return nil
}

// Render validates the catalog and the composition, then concatenates the
// enabled segments in position order. Disabled segments and segments whose
// condition is false are skipped.
func (r *Renderer) Render(ctx context.Context, compositionID string, vars map[string]interface{}) (*Rendered, error) {
	catalog, err := r.source.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	comp, err := catalog.Composition(compositionID)
	if err != nil {
		return nil, err
	}

	if err := Validate(catalog.Entries, catalog.Contents()); err != nil {
		return nil, err
	}
	if err := ValidateComposition(comp, catalog.Segments); err != nil {
		return nil, err
	}

	out := &Rendered{CompositionID: comp.ID, TargetFile: comp.Target()}
	var parts []string

	for _, item := range comp.Ordered() {
		seg := catalog.Segments[item.SegmentID]
		if !item.Enabled {
			out.Skipped = append(out.Skipped, seg.ID)
			continue
		}
		if seg.Condition != "" {
			ok, err := r.evaluate(ctx, seg, vars)
			if err != nil {
				return nil, err
			}
			if !ok {
				out.Skipped = append(out.Skipped, seg.ID)
				continue
			}
		}

		content := seg.Content
		if item.Override != "" {
			content = item.Override
		}
		parts = append(parts, strings.TrimRight(content, "\n"))
		out.Segments = append(out.Segments, seg.ID)
	}

	if len(parts) > 0 {
		out.Content = strings.Join(parts, "\n\n") + "\n"
	}
	out.Checksum = assets.Checksum([]byte(out.Content))

	r.logger.Debug().
		Str("composition", comp.ID).
		Int("segments", len(out.Segments)).
		Int("skipped", len(out.Skipped)).
		Str("checksum", out.Checksum).
		Msg("Composition rendered")

	return out, nil
}

// RenderTo renders a composition and writes it into root. When snap is
// non-nil the previous target file is captured first so the write can be
// undone.
func (r *Renderer) RenderTo(ctx context.Context, compositionID, root string, vars map[string]interface{}, snap *assets.Snapshot) (*Rendered, error) {
	out, err := r.Render(ctx, compositionID, vars)
	if err != nil {
		return nil, err
	}

	current, _, err := assets.ReadFile(root, out.TargetFile)
	if err != nil {
		return nil, engine.NewPermanentError("cannot access render target", err).WithResource(out.TargetFile)
	}
	if current != nil && assets.Checksum(current) == out.Checksum {
		return out, nil
	}

	if snap != nil {
		if err := snap.Capture(root, out.TargetFile, nil); err != nil {
			return nil, engine.NewPermanentError("failed to back up render target", err).WithResource(out.TargetFile)
		}
	}
	if err := assets.WriteFile(root, out.TargetFile, []byte(out.Content), 0o644); err != nil {
		return nil, engine.NewPermanentError("failed to write render target", err).WithResource(out.TargetFile)
	}
	return out, nil
}

func (r *Renderer) evaluate(ctx context.Context, seg *Segment, vars map[string]interface{}) (bool, error) {
	if r.conditions == nil {
		return false, engine.NewStructuralError(fmt.Sprintf("segment %s has a condition but no evaluator is configured", seg.ID), nil).
			WithCode(engine.ErrCodeValidation).WithResource(seg.ID)
	}
	ok, err := r.conditions.EvaluateCondition(ctx, seg.Condition, vars)
	if err != nil {
		return false, engine.NewStructuralError(fmt.Sprintf("cannot evaluate condition of segment %s", seg.ID), err).
			WithCode(engine.ErrCodeValidation).WithResource(seg.ID).WithDetail("condition", seg.Condition)
	}
	return ok, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
