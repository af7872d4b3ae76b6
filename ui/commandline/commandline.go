// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for the command line: reports of the
// partitions, progress bars and settings flags.
package commandline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/leafscan/leafscan/pkg/ml/datasets"
	"github.com/leafscan/leafscan/pkg/ml/train"
	"github.com/muesli/termenv"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// DisableColors makes all rendered tables plain ASCII text, without ANSI color codes.
// Useful when the output is redirected to a file.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// PartitionsTable renders a table with the number of batches of each partition, their share of the total
// and the configured fraction.
//
// The number of batches is taken from train.NumBatches, so datasets that don't implement
// train.HasNumBatches are read for a full pass.
func PartitionsTable(parts *datasets.Partitions) (string, error) {
	configured := []float64{parts.Fractions.Train, parts.Fractions.Validation, parts.Fractions.Test}
	counts := make([]int, 3)
	total := 0
	for ii, ds := range parts.All() {
		n, err := train.NumBatches(ds)
		if err != nil {
			return "", err
		}
		counts[ii] = n
		total += n
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("Partition", "Batches", "Share", "Configured").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return normalStyle
			default:
				return rightAlignedStyle
			}
		})
	for ii, ds := range parts.All() {
		share := 0.0
		if total > 0 {
			share = float64(counts[ii]) / float64(total)
		}
		table.Row(ds.Name(), humanize.Comma(int64(counts[ii])),
			fmt.Sprintf("%.1f%%", 100*share), fmt.Sprintf("%.1f%%", 100*configured[ii]))
	}
	table.Row("Total", humanize.Comma(int64(total)), "100.0%", "")
	return table.String(), nil
}

// ReportPartitions writes the PartitionsTable of parts to w.
func ReportPartitions(w io.Writer, parts *datasets.Partitions) error {
	table, err := PartitionsTable(parts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table)
	return err
}
