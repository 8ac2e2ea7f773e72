package sheet

import (
	"context"
	"fmt"
	"sync"
)

// memoryStore keeps tables in process memory. The file store reuses it and
// persists after every mutation through onChange.
type memoryStore struct {
	mu       sync.RWMutex
	order    []string
	tables   map[string]*memoryTable
	onChange func() error
}

// Compile-time interface checks.
var (
	_ Store = (*memoryStore)(nil)
	_ Table = (*memoryTable)(nil)
)

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		tables: make(map[string]*memoryTable, 3),
	}
}

func (s *memoryStore) Start(_ context.Context) error {
	return nil
}

func (s *memoryStore) Stop() error {
	return nil
}

func (s *memoryStore) FindOrCreate(_ context.Context, name string) (Table, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[name]; ok {
		return t, nil
	}

	t := s.addTable(name, [][]Cell{{Text(DateHeader)}})

	if err := s.changed(); err != nil {
		s.dropTable(name)

		return nil, err
	}

	return t, nil
}

func (s *memoryStore) Get(_ context.Context, name string) (Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrTableNotFound)
	}

	return t, nil
}

func (s *memoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.order))
	copy(names, s.order)

	return names, nil
}

// addTable registers a table; the caller holds s.mu.
func (s *memoryStore) addTable(name string, rows [][]Cell) *memoryTable {
	t := &memoryTable{store: s, name: name, rows: rows}
	s.tables[name] = t
	s.order = append(s.order, name)

	return t
}

// dropTable undoes addTable; the caller holds s.mu.
func (s *memoryStore) dropTable(name string) {
	delete(s.tables, name)

	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}
}

// changed runs the persistence hook; the caller holds s.mu.
func (s *memoryStore) changed() error {
	if s.onChange == nil {
		return nil
	}

	return s.onChange()
}

type memoryTable struct {
	store *memoryStore
	name  string
	rows  [][]Cell // rows[0] is row 1
}

func (t *memoryTable) Name() string {
	return t.name
}

func (t *memoryTable) Header(_ context.Context) ([]string, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	return t.header(), nil
}

func (t *memoryTable) AppendColumn(_ context.Context, name string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	return t.apply(func() {
		t.set(1, nextHeaderColumn(t.header()), Text(name))
	})
}

func (t *memoryTable) LastRow(_ context.Context) (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	return t.lastRow(), nil
}

func (t *memoryTable) WriteRow(_ context.Context, row int, cells map[int]Cell) error {
	if row < 1 {
		return fmt.Errorf("invalid row %d", row)
	}

	for col := range cells {
		if col < 1 {
			return fmt.Errorf("invalid column %d", col)
		}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	return t.apply(func() {
		for col, c := range cells {
			t.set(row, col, c)
		}
	})
}

func (t *memoryTable) Rows(_ context.Context) ([][]Cell, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	last := t.lastRow()
	out := make([][]Cell, last)

	for i := 0; i < last; i++ {
		trimmed := trimRow(t.rows[i])
		out[i] = make([]Cell, len(trimmed))
		copy(out[i], trimmed)
	}

	return out, nil
}

func (t *memoryTable) header() []string {
	if len(t.rows) == 0 {
		return []string{}
	}

	return headerFromRow(t.rows[0])
}

func (t *memoryTable) lastRow() int {
	for i := len(t.rows) - 1; i >= 0; i-- {
		if len(trimRow(t.rows[i])) > 0 {
			return i + 1
		}
	}

	return 0
}

// apply runs write and persists it. The grid is restored when persisting
// fails; the caller holds store.mu.
func (t *memoryTable) apply(write func()) error {
	prev := make([][]Cell, len(t.rows))
	for i, r := range t.rows {
		prev[i] = append([]Cell(nil), r...)
	}

	write()

	if err := t.store.changed(); err != nil {
		t.rows = prev

		return err
	}

	return nil
}

// set writes a cell, growing the grid as needed.
func (t *memoryTable) set(row, col int, c Cell) {
	for len(t.rows) < row {
		t.rows = append(t.rows, nil)
	}

	r := t.rows[row-1]
	for len(r) < col {
		r = append(r, Cell{})
	}

	r[col-1] = c
	t.rows[row-1] = r
}
