// Package visualization renders farm topology and irrigation plan diagrams
// in various formats.
//
// The package supports rendering a farm configuration, optionally overlaid
// with a built plan's batch membership, as:
//   - Mermaid flowchart diagrams (for documentation and GitHub)
//
// Example usage:
//
//	renderer := visualization.NewMermaidRenderer()
//	opts := visualization.DefaultRenderOptions()
//	diagram, err := renderer.Render(farmCfg, plan, opts)
package visualization

import (
	"github.com/paddyworks/irrigate/pkg/models"
)

// Renderer is the interface for rendering farm/plan diagrams in different
// formats.
type Renderer interface {
	// Render converts a farm configuration, optionally overlaid with a
	// built plan, into the target format. plan may be nil to render the
	// bare topology.
	Render(cfg *models.FarmConfig, plan *models.Plan, opts *RenderOptions) (string, error)

	// Format returns the format identifier (e.g., "mermaid").
	Format() string
}

// RenderOptions configures how diagrams are rendered.
type RenderOptions struct {
	// ShowGates controls whether regulator gates are drawn as their own
	// nodes inside each segment.
	ShowGates bool

	// ShowWaterLevels annotates each field node with its current water
	// level and optimum target.
	ShowWaterLevels bool

	// ShowBatches colors field nodes by the plan batch they belong to. No
	// legend is drawn. Ignored when no plan is supplied.
	ShowBatches bool

	// Direction sets the diagram flow direction.
	// Valid values: "TB" (top-bottom), "LR" (left-right), "RL" (right-left), "BT" (bottom-top),
	// or "elk" (elk layout, drawn top-bottom).
	Direction string

	// ThemeVariables allows customizing the Mermaid theme (Mermaid renderer only).
	ThemeVariables map[string]string
}

// DefaultRenderOptions returns the default rendering options.
func DefaultRenderOptions() *RenderOptions {
	return &RenderOptions{
		ShowGates:       true,
		ShowWaterLevels: true,
		ShowBatches:     true,
		Direction:       "LR",
		ThemeVariables:  nil,
	}
}
