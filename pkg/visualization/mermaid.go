package visualization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paddyworks/irrigate/pkg/models"
)

// MermaidRenderer renders farm topology and plan batches as Mermaid
// flowchart diagrams.
type MermaidRenderer struct{}

// NewMermaidRenderer creates a new Mermaid renderer.
func NewMermaidRenderer() *MermaidRenderer {
	return &MermaidRenderer{}
}

// Format returns the format identifier.
func (r *MermaidRenderer) Format() string {
	return "mermaid"
}

// batchPalette cycles fill colors for batch membership styling.
var batchPalette = []string{"#bbdefb", "#c8e6c9", "#fff9c4", "#ffccbc", "#e1bee7", "#b2dfdb"}

// Render converts a farm configuration, optionally overlaid with a plan,
// into Mermaid flowchart syntax.
func (r *MermaidRenderer) Render(cfg *models.FarmConfig, plan *models.Plan, opts *RenderOptions) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("farm config is nil")
	}

	if opts == nil {
		opts = DefaultRenderOptions()
	}

	var sb strings.Builder

	// Write config block if theme variables are set
	if len(opts.ThemeVariables) > 0 || opts.Direction == "elk" {
		sb.WriteString("---\n")
		sb.WriteString("config:\n")

		// Layout configuration (elk is more adaptive for complex graphs)
		if opts.Direction == "elk" {
			sb.WriteString("  layout: elk\n")
		}

		// Theme configuration
		if len(opts.ThemeVariables) > 0 {
			sb.WriteString("  theme: base\n")
			sb.WriteString("  themeVariables:\n")
			for _, key := range sortedKeys(opts.ThemeVariables) {
				sb.WriteString(fmt.Sprintf("    %s: \"%s\"\n", key, opts.ThemeVariables[key]))
			}
		}

		sb.WriteString("---\n")
	}

	// Write header
	sb.WriteString("flowchart ")
	if opts.Direction != "elk" && opts.Direction != "" {
		sb.WriteString(opts.Direction)
	} else {
		sb.WriteString("TB") // Default direction for elk layout
	}
	sb.WriteString("\n")

	// Pump nodes
	for _, p := range cfg.Pumps {
		sb.WriteString("    ")
		sb.WriteString(fmt.Sprintf("%s([\"%s<br/>%.0f m3/h\"])", nodeID("pump", p.Name), escapeLabel(p.Name), p.EffectiveFlow()))
		sb.WriteString("\n")
	}

	gateByID := cfg.GateByID()
	fieldsBySegment := make(map[string][]models.Field)
	for _, f := range cfg.Fields {
		fieldsBySegment[f.SegmentID] = append(fieldsBySegment[f.SegmentID], f)
	}

	// One subgraph per segment: its regulator gates (in within-segment
	// sequence order) and its fields.
	segments := make([]models.Segment, len(cfg.Segments))
	copy(segments, cfg.Segments)
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].DistanceRank < segments[j].DistanceRank })

	for _, seg := range segments {
		sb.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", nodeID("seg", seg.ID), escapeLabel(seg.ID)))

		if opts.ShowGates {
			for _, gid := range orderedRegulators(seg, gateByID) {
				sb.WriteString(fmt.Sprintf("        %s{{\"%s\"}}\n", nodeID("gate", gid), escapeLabel(gid)))
			}
		}

		for _, f := range sortedFields(fieldsBySegment[seg.ID]) {
			sb.WriteString(fmt.Sprintf("        %s[\"%s\"]\n", nodeID("field", f.ID), r.fieldLabel(f, opts)))
		}

		sb.WriteString("    end\n")
	}

	sb.WriteString("\n")

	// Feed edges: pump --> segment
	for _, seg := range segments {
		feeds := seg.FeedBy
		if len(feeds) == 0 {
			// Unconstrained segments are drawn as fed by every pump.
			for _, p := range cfg.Pumps {
				feeds = append(feeds, p.Name)
			}
		}
		for _, pumpName := range feeds {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID("pump", pumpName), nodeID("seg", seg.ID)))
		}
	}

	// Gate chain and inlet edges within each segment
	if opts.ShowGates {
		for _, seg := range segments {
			regs := orderedRegulators(seg, gateByID)
			for i := 1; i < len(regs); i++ {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID("gate", regs[i-1]), nodeID("gate", regs[i])))
			}
			for _, f := range sortedFields(fieldsBySegment[seg.ID]) {
				from := nodeID("seg", seg.ID)
				if g := nearestRegulator(f, regs); g != "" {
					from = nodeID("gate", g)
				}
				sb.WriteString(fmt.Sprintf("    %s -.-> %s\n", from, nodeID("field", f.ID)))
			}
		}
	}

	// Batch membership styling
	if plan != nil && opts.ShowBatches && len(plan.Batches) > 0 {
		sb.WriteString("\n")
		for _, b := range plan.Batches {
			color := batchPalette[(b.Index-1)%len(batchPalette)]
			className := fmt.Sprintf("batch%d", b.Index)
			sb.WriteString(fmt.Sprintf("    classDef %s fill:%s\n", className, color))
			var ids []string
			for _, f := range b.Fields {
				ids = append(ids, nodeID("field", f.ID))
			}
			sb.WriteString(fmt.Sprintf("    class %s %s\n", strings.Join(ids, ","), className))
		}
	}

	return sb.String(), nil
}

// fieldLabel builds a field node's display label, optionally annotated with
// its current and optimum water levels.
func (r *MermaidRenderer) fieldLabel(f models.Field, opts *RenderOptions) string {
	label := escapeLabel(f.ID) + fmt.Sprintf("<br/>%.0f mu", f.AreaMu)
	if opts.ShowWaterLevels {
		if f.WaterLevelMM != nil {
			label += fmt.Sprintf("<br/>%.0f/%.0f mm", *f.WaterLevelMM, f.WLOpt)
		} else {
			label += fmt.Sprintf("<br/>?/%.0f mm", f.WLOpt)
		}
	}
	return label
}

// orderedRegulators returns a segment's regulator gate ids sorted by
// within-segment sequence, skipping ids of known gates that are not
// regulator-kind. Ids with no entry in gateByID are kept.
func orderedRegulators(seg models.Segment, gateByID map[string]*models.Gate) []string {
	var regs []string
	for _, gid := range seg.RegulatorGateIDs {
		if g, ok := gateByID[gid]; ok && !models.IsRegulatorKind(g.Kind) {
			continue
		}
		regs = append(regs, gid)
	}
	sort.SliceStable(regs, func(i, j int) bool {
		_, ki, _ := models.ParseGateID(regs[i])
		_, kj, _ := models.ParseGateID(regs[j])
		return ki < kj
	})
	return regs
}

// nearestRegulator picks the last regulator at or upstream of the field's
// inlet sequence, so the dotted inlet edge leaves the right point in the
// gate chain.
func nearestRegulator(f models.Field, regs []string) string {
	seq, err := f.InletSequence()
	if err != nil {
		return ""
	}
	best := ""
	for _, gid := range regs {
		_, k, err := models.ParseGateID(gid)
		if err != nil || k > seq {
			continue
		}
		best = gid
	}
	return best
}

func sortedFields(fields []models.Field) []models.Field {
	out := make([]models.Field, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceRank != out[j].DistanceRank {
			return out[i].DistanceRank < out[j].DistanceRank
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// nodeID builds a Mermaid-safe node identifier from a kind prefix and a
// domain id (dashes are replaced so ids never collide with edge syntax).
func nodeID(kind, id string) string {
	return kind + "_" + strings.ReplaceAll(id, "-", "_")
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
