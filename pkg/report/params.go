// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	rowStyle = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
)

// SprintParams returns a table with the trainable variables in the context scope: their scope, name, shape and
// number of parameters, followed by the total ("#params").
func SprintParams(ctx *context.Context) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("scope", "name", "shape", "size").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			s := rowStyle.Faint(row%2 == 1)
			if col == 3 {
				return s.Align(lipgloss.Right)
			}
			return s
		})
	var total int
	ctx.EnumerateVariablesInScope(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		size := v.Shape().Size()
		total += size
		table.Row(v.Scope(), v.Name(), v.Shape().String(), humanize.Comma(int64(size)))
	})
	table.Row("", "#params", "", humanize.Comma(int64(total)))
	return table.Render()
}
