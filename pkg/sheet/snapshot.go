package sheet

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// Snapshot is a read-only copy of a table.
type Snapshot struct {
	Name   string        `json:"name"`
	Header []string      `json:"header"`
	Rows   []SnapshotRow `json:"rows"`
}

// SnapshotRow is one data row keyed by header name.
type SnapshotRow struct {
	Row    int             `json:"row"`
	Label  string          `json:"label"`
	Values map[string]Cell `json:"values"`
}

// TakeSnapshot reads the whole table.
func TakeSnapshot(ctx context.Context, table Table) (*Snapshot, error) {
	grid, err := table.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading rows of %q: %w", table.Name(), err)
	}

	snap := &Snapshot{
		Name:   table.Name(),
		Header: []string{},
		Rows:   make([]SnapshotRow, 0, max(len(grid)-1, 0)),
	}

	if len(grid) == 0 {
		return snap, nil
	}

	snap.Header = headerFromRow(grid[0])

	for i, cells := range grid[1:] {
		r := SnapshotRow{
			Row:    i + 2,
			Values: make(map[string]Cell, len(cells)),
		}

		for j, c := range cells {
			if j == 0 {
				r.Label = c.String()

				continue
			}

			if c.IsEmpty() || j-1 >= len(snap.Header) || snap.Header[j-1] == "" {
				continue
			}

			r.Values[snap.Header[j-1]] = c
		}

		snap.Rows = append(snap.Rows, r)
	}

	return snap, nil
}

// WriteCSV renders the snapshot as CSV with a leading header line.
func (s *Snapshot) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	record := make([]string, 0, len(s.Header)+1)
	record = append(record, DateHeader)
	record = append(record, s.Header...)

	if err := cw.Write(record); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, r := range s.Rows {
		record = record[:0]
		record = append(record, r.Label)

		for _, key := range s.Header {
			if c, ok := r.Values[key]; ok && key != "" {
				record = append(record, c.String())
			} else {
				record = append(record, "")
			}
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", r.Row, err)
		}
	}

	cw.Flush()

	return cw.Error()
}
