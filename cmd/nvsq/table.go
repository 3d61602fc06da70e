package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bft-labs/nvsq"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// statsView is what the stats command shows for one partition.
type statsView struct {
	Partition string
	Namespace string
	Stats     nvsq.StoreStats
	EntrySize int
	Margin    int
	LastID    nvsq.RecordID
	HasLastID bool
}

// recordsLeft is how many more records the guard will admit.
func (v statsView) recordsLeft(recordSize int) int {
	per := nvsq.MarginFor(recordSize, v.EntrySize) - 1
	if per <= 0 {
		return 0
	}
	if v.Stats.FreeEntries <= v.Margin {
		return 0
	}
	return (v.Stats.FreeEntries-v.Margin-1)/per + 1
}

func renderStats(v statsView, recordSize int) string {
	entryBytes := func(n int) string {
		return fmt.Sprintf("%d (%s)", n, humanize.IBytes(uint64(n)*uint64(v.EntrySize)))
	}

	last := "-"
	if v.HasLastID {
		last = strconv.FormatUint(uint64(v.LastID), 10)
		if v.LastID != 0 {
			last += " " + nvsq.FormatKey(v.LastID)
		}
	}

	rows := [][]string{
		{"partition", v.Partition},
		{"namespace", v.Namespace},
		{"used entries", entryBytes(v.Stats.UsedEntries)},
		{"free entries", entryBytes(v.Stats.FreeEntries)},
		{"total entries", entryBytes(v.Stats.TotalEntries)},
		{"used", fmt.Sprintf("%.1f%%", v.Stats.UsedFraction()*100)},
		{"namespaces", strconv.Itoa(v.Stats.NamespaceCount)},
		{"margin", strconv.Itoa(v.Margin)},
		{"records left", strconv.Itoa(v.recordsLeft(recordSize))},
		{"last record", last},
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
