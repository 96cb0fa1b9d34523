// Package dotexport renders a compiled physical graph's BlockStructure
// as a deterministic Graphviz DOT document (spec section 6: "external
// collaborator: deterministic rendering... one subgraph per block; edge
// styles dotted/solid/dashed/bold for OnlyOne/Random/GroupBy/All").
package dotexport

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowmesh/flowmesh/graph"
)

// Render produces the DOT source for blocks. Blocks and their operators
// are emitted in ascending ID order so the output is stable across
// calls for the same graph, regardless of map iteration order upstream.
func Render(blocks []graph.BlockStructure) string {
	sorted := make([]graph.BlockStructure, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	b.WriteString("digraph flowmesh {\n")
	b.WriteString("  rankdir=LR;\n")

	for _, block := range sorted {
		fmt.Fprintf(&b, "  subgraph cluster_%d {\n", block.ID)
		fmt.Fprintf(&b, "    label=\"block %d\";\n", block.ID)
		for i, op := range block.Operators {
			fmt.Fprintf(&b, "    %s [label=%q];\n", nodeName(block.ID, i), op.Title)
		}
		for i := 1; i < len(block.Operators); i++ {
			fmt.Fprintf(&b, "    %s -> %s;\n", nodeName(block.ID, i-1), nodeName(block.ID, i))
		}
		b.WriteString("  }\n")
	}

	type edgeKey struct {
		from, to int
		style    string
	}
	seen := map[edgeKey]bool{}
	var edgeLines []string
	for _, block := range sorted {
		for _, down := range block.Downstream {
			style := down.Strategy.DotStyle()
			key := edgeKey{from: block.ID, to: down.ToBlockID, style: style}
			if seen[key] {
				continue
			}
			seen[key] = true
			edgeLines = append(edgeLines, fmt.Sprintf("  %s -> %s [style=%s, label=%q];",
				lastNode(block), firstNodeOf(sorted, down.ToBlockID), style, down.Strategy.String()))
		}
	}
	sort.Strings(edgeLines)
	for _, l := range edgeLines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	b.WriteString("}\n")
	return b.String()
}

func nodeName(blockID, opIdx int) string {
	return fmt.Sprintf("b%d_op%d", blockID, opIdx)
}

func lastNode(b graph.BlockStructure) string {
	if len(b.Operators) == 0 {
		return fmt.Sprintf("b%d_op0", b.ID)
	}
	return nodeName(b.ID, len(b.Operators)-1)
}

func firstNodeOf(blocks []graph.BlockStructure, id int) string {
	for _, b := range blocks {
		if b.ID == id {
			return nodeName(b.ID, 0)
		}
	}
	return fmt.Sprintf("b%d_op0", id)
}
