package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/weft/pkg/domain"
	wgraph "github.com/aretw0/weft/pkg/graph"
)

// GraphOverlay contains run state to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	FinalNode    string
}

// GenerateMermaid produces a Mermaid flowchart for g.
// Node shapes follow the node type:
// - Start: ((Circle))
// - Subgraph: [[Subroutine]]
// - Human: [/Parallelogram/]
// - Python: [(Cylinder)]
// - Agent: [Rectangle]
// - Plumbing (passthrough, literal, loop_counter): {{Hexagon}}
// Edges that close a cycle are drawn dashed.
func GenerateMermaid(g *domain.Graph, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	if g == nil {
		return sb.String()
	}

	start := g.Start()
	fmt.Fprintf(&sb, "    %s((\"%s\"))\n", sanitizeMermaidID(start), start)

	for _, node := range g.Nodes {
		opener, closer := "[", "]"
		switch node.Type {
		case domain.NodeTypeSubgraph:
			opener, closer = "[[", "]]"
		case domain.NodeTypeHuman:
			opener, closer = "[/", "/]"
		case domain.NodeTypePython:
			opener, closer = "[(", ")]"
		case domain.NodeTypePassthrough, domain.NodeTypeLiteral, domain.NodeTypeLoopCounter:
			opener, closer = "{{", "}}"
		}

		label := node.ID
		if node.Type != "" {
			label = fmt.Sprintf("%s <br/> <small>%s</small>", node.ID, node.Type)
		}
		if node.ID == g.EndNodeID {
			label += " <br/> ⏹"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(node.ID), opener, label, closer)
	}

	back := wgraph.BackEdges(g)
	for i, e := range g.Edges {
		arrow := "-->"
		if slices.Contains(back, i) {
			arrow = "-.->"
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(e.From), arrow, sanitizeMermaidID(e.To))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef final fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if safeID == "" || seen[safeID] {
				continue
			}
			seen[safeID] = true
			fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
		}
		if overlay.FinalNode != "" {
			fmt.Fprintf(&sb, "    class %s final;\n", sanitizeMermaidID(overlay.FinalNode))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
