package sheet

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Entry is one value destined for the column named Key.
type Entry struct {
	Key   string
	Value Cell
}

// SyncResult describes one synchronized table write.
type SyncResult struct {
	Table   string
	Row     int
	Columns int
	Added   []string
}

// Synchronizer grows table headers and appends labeled rows.
//
// Header growth reads the header, computes the new columns, and writes
// them; two synchronizers running against the same table at once can
// assign the same column twice. Callers serialize runs.
type Synchronizer struct {
	log   logrus.FieldLogger
	store Store
}

// NewSynchronizer creates a Synchronizer over store.
func NewSynchronizer(log logrus.FieldLogger, store Store) *Synchronizer {
	return &Synchronizer{
		log:   log.WithField("component", "synchronizer"),
		store: store,
	}
}

// EnsureColumns makes sure every key has a header column, appending missing
// keys at the right edge in input order, and returns the updated header.
func (s *Synchronizer) EnsureColumns(
	ctx context.Context, table Table, keys []string,
) (*Header, error) {
	header, _, err := s.ensureColumns(ctx, table, keys)

	return header, err
}

func (s *Synchronizer) ensureColumns(
	ctx context.Context, table Table, keys []string,
) (*Header, []string, error) {
	current, err := table.Header(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading header of %q: %w", table.Name(), err)
	}

	updated, added := Grow(current, keys)

	for _, name := range added {
		if err := table.AppendColumn(ctx, name); err != nil {
			return nil, nil, fmt.Errorf("appending column %q to %q: %w", name, table.Name(), err)
		}
	}

	if len(added) > 0 {
		s.log.WithFields(logrus.Fields{
			"table":   table.Name(),
			"added":   added,
			"columns": len(updated),
		}).Info("Added table columns")
	}

	return NewHeader(updated), added, nil
}

// AppendRow writes label and entries into the row after the last one and
// returns its index. Entries whose key has no header column are skipped.
// Row 1 is reserved for the header, so the first data row is 2.
func (s *Synchronizer) AppendRow(
	ctx context.Context, table Table, label string, entries []Entry, header *Header,
) (int, error) {
	last, err := table.LastRow(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading last row of %q: %w", table.Name(), err)
	}

	row := max(last, 1) + 1

	cells := make(map[int]Cell, len(entries)+1)
	cells[1] = Text(label)

	for _, e := range entries {
		col, ok := header.Column(e.Key)
		if !ok {
			s.log.WithFields(logrus.Fields{
				"table": table.Name(),
				"key":   e.Key,
			}).Debug("Skipping value without a header column")

			continue
		}

		cells[col] = e.Value
	}

	if err := table.WriteRow(ctx, row, cells); err != nil {
		return 0, fmt.Errorf("writing row %d of %q: %w", row, table.Name(), err)
	}

	return row, nil
}

// Sync finds or creates the named table, ensures a column for every entry,
// and appends one row labeled with label.
func (s *Synchronizer) Sync(
	ctx context.Context, name, label string, entries []Entry,
) (*SyncResult, error) {
	table, err := s.store.FindOrCreate(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("opening table %q: %w", name, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}

	header, added, err := s.ensureColumns(ctx, table, keys)
	if err != nil {
		return nil, err
	}

	row, err := s.AppendRow(ctx, table, label, entries, header)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"table": name,
		"row":   row,
		"label": label,
	}).Info("Table synchronized")

	return &SyncResult{
		Table:   name,
		Row:     row,
		Columns: header.Len(),
		Added:   added,
	}, nil
}
