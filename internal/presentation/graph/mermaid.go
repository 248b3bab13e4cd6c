package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/labrun/internal/compiler"
)

// Overlay holds the modes of a live or stored run, keyed by node path.
type Overlay struct {
	Modes map[string]string
}

// NodeID is the Mermaid identifier of the node at path.
func NodeID(path []int) string {
	var sb strings.Builder
	sb.WriteString("n")
	for _, id := range path {
		sb.WriteString("_")
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

// OverlayFromTree collects modes from an exported program tree decoded from
// JSON (a snapshot root).
func OverlayFromTree(root any) *Overlay {
	o := &Overlay{Modes: make(map[string]string)}
	o.collect(root)
	return o
}

func (o *Overlay) collect(v any) {
	node, ok := v.(map[string]any)
	if !ok {
		return
	}
	var path []int
	if raw, ok := node["path"].([]any); ok {
		for _, p := range raw {
			if f, ok := p.(float64); ok {
				path = append(path, int(f))
			}
		}
	}
	if mode, ok := node["mode"].(string); ok {
		o.Modes[NodeID(path)] = mode
	}
	if children, ok := node["children"].([]any); ok {
		for _, c := range children {
			o.collect(c)
		}
	}
}

// GenerateMermaid produces a Mermaid flowchart of a compiled protocol.
// Shapes follow the block kind:
// - Sequence: [Rectangle]
// - State: {{Hexagon}} listing its namespaces
// - Process: ([Stadium]) with its term
// Sequence edges are numbered in execution order. With an overlay, nodes are
// classed by the mode they were last seen in.
func GenerateMermaid(o compiler.Outline, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	writeNode(&sb, o, nil)

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef running fill:#e0e7ff,stroke:#818cf8,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef stopped fill:#fef3c7,stroke:#fbbf24,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef done fill:#d1fae5,stroke:#34d399,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffe4e6,stroke:#fb7185,stroke-width:4px,color:#000;\n")
		writeClasses(&sb, o, nil, overlay)
	}
	return sb.String()
}

func writeNode(sb *strings.Builder, o compiler.Outline, path []int) {
	id := NodeID(path)
	opener, closer := "[", "]"
	label := o.Kind

	switch o.Kind {
	case "state":
		opener, closer = "{{", "}}"
		if len(o.State) > 0 {
			label += " <br/> " + strings.Join(o.State, ", ")
		}
	case "process":
		opener, closer = "([", "])"
		label = o.Name
		if o.Term != "unknown" {
			label += " <br/> ⏱️ " + o.Term
		}
	}
	fmt.Fprintf(sb, "    %s%s\"%s\"%s\n", id, opener, strings.ReplaceAll(label, "\"", "'"), closer)

	for i, c := range o.Children {
		childPath := append(append([]int(nil), path...), i)
		arrow := "-->"
		if o.Kind == "sequence" {
			arrow = fmt.Sprintf("-- %d -->", i+1)
		}
		fmt.Fprintf(sb, "    %s %s %s\n", id, arrow, NodeID(childPath))
		writeNode(sb, c, childPath)
	}
}

func writeClasses(sb *strings.Builder, o compiler.Outline, path []int, overlay *Overlay) {
	id := NodeID(path)
	if mode, ok := overlay.Modes[id]; ok {
		fmt.Fprintf(sb, "    class %s %s;\n", id, classFor(mode))
	}
	for i, c := range o.Children {
		writeClasses(sb, c, append(append([]int(nil), path...), i), overlay)
	}
}

func classFor(mode string) string {
	switch mode {
	case "done", "halted":
		return "done"
	case "failed", "collection_failed":
		return "failed"
	case "paused", "pausing", "pausing_child", "pausing_state", "suspending":
		return "stopped"
	}
	return "running"
}
