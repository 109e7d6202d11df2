/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/nmt/pkg/ml/seq2seq"
	"github.com/pkg/errors"
)

// NBestRow is one output hypothesis, as exported to CSV.
type NBestRow struct {
	Line   int     `dataframe:"line"`
	Rank   int     `dataframe:"rank"`
	Score  float64 `dataframe:"score"`
	Status string  `dataframe:"status"`
	Output string  `dataframe:"output"`
	Error  string  `dataframe:"error"`
}

// collectRows flattens the search results: one row per hypothesis, or one row with
// Error set for lines that failed.
func collectRows(m *ToyModel, results []seq2seq.ItemResult) []NBestRow {
	var rows []NBestRow
	for _, result := range results {
		if result.Err != nil {
			rows = append(rows, NBestRow{Line: result.LineID, Error: result.Err.Error()})
			continue
		}
		for rank, r := range result.NBest {
			rows = append(rows, NBestRow{
				Line:   result.LineID,
				Rank:   rank + 1,
				Score:  float64(r.NormalizedScore),
				Status: r.Status.String(),
				Output: m.Decode(r.Words),
			})
		}
	}
	return rows
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	bestStyle   = cellStyle.Foreground(lipgloss.Color("10"))
	errorStyle  = cellStyle.Foreground(lipgloss.Color("9"))
)

// renderTable formats the rows as a table, highlighting the best hypothesis of each line.
func renderTable(rows []NBestRow) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("line", "rank", "score", "status", "output")
	for _, row := range rows {
		if row.Error != "" {
			t.Row(strconv.Itoa(row.Line), "-", "-", "failed", row.Error)
			continue
		}
		t.Row(strconv.Itoa(row.Line), strconv.Itoa(row.Rank), fmt.Sprintf("%.4f", row.Score), row.Status, row.Output)
	}
	t.StyleFunc(func(r, c int) lipgloss.Style {
		if r == table.HeaderRow {
			return headerStyle
		}
		row := rows[r]
		switch {
		case row.Error != "":
			return errorStyle
		case row.Rank == 1:
			return bestStyle
		}
		return cellStyle
	})
	return t.Render()
}

// writeCSV writes the rows as CSV with a header line.
func writeCSV(w io.Writer, rows []NBestRow) error {
	if len(rows) == 0 {
		return errors.New("no results to write")
	}
	df := dataframe.LoadStructs(rows)
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build results dataframe")
	}
	if err := df.WriteCSV(w); err != nil {
		return errors.Wrap(err, "failed to write CSV")
	}
	return nil
}
