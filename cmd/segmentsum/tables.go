// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/segments/pkg/core/tensors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// newPlainTable returns a table with alternating row styles. The alignments are given per column, and the
// last one is used for the remaining columns.
func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				// Even row style.
				s = oddRowStyle
			default:
				// Odd row style
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			s = s.Align(alignment)
			return
		})
}

// tensorRow describes a tensor in a table row: name, dtype, dimensions, size and bytes.
func tensorRow(name string, t *tensors.Tensor) []string {
	shape := t.Shape()
	return []string{
		name,
		shape.DType.String(),
		fmt.Sprintf("%v", shape.Dimensions),
		humanize.Comma(int64(shape.Size())),
		humanize.Bytes(uint64(shape.Memory())),
	}
}

// renderReport returns the summary of the run as a couple of tables.
func renderReport(r *result) string {
	summary := newPlainTable(lipgloss.Right, lipgloss.Left)
	summary.Row("backend", r.backendDescription)
	summary.Row("operation", r.opType.String())
	summary.Row("sorted", fmt.Sprintf("%v", r.sorted))
	summary.Row("# segments", humanize.Comma(int64(r.numSegments)))
	summary.Row("repeats", humanize.Comma(int64(r.repeats)))
	summary.Row("time per run", r.elapsed.String())
	if r.outputPath != "" {
		summary.Row("output file", r.outputPath)
	}

	tensorsTable := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right).
		Headers("Tensor", "DType", "Dimensions", "Size", "Bytes")
	tensorsTable.Row(tensorRow("data", r.data)...)
	tensorsTable.Row(tensorRow("segment_ids", r.segmentIDs)...)
	tensorsTable.Row(tensorRow("output", r.output)...)

	return titleStyle.Render("Segment Reduction") + "\n" +
		summary.Render() + "\n" +
		tensorsTable.Render() + "\n"
}
