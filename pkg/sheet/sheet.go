// Package sheet maintains append-only report tables whose column set grows
// as new names appear.
//
// A table is a 2-D grid addressed with 1-based row and column coordinates.
// Row 1 is the header: column 1 holds DateHeader and columns 2..N hold the
// names assigned so far. Every later row holds a date label in column 1 and
// one value per named column.
package sheet

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
	"github.com/ethpandaops/buildstatsoor/pkg/fsutil"
)

// ErrTableNotFound is returned by Store.Get for an unknown table name.
var ErrTableNotFound = errors.New("table not found")

// Table is a single named grid.
type Table interface {
	// Name returns the table name.
	Name() string

	// Header returns the header cells from column 2 to the last non-empty
	// header column. Blank cells inside that range are returned as "".
	Header(ctx context.Context) ([]string, error)

	// AppendColumn writes name into the first header cell right of the
	// last non-empty header cell (never left of column 2).
	AppendColumn(ctx context.Context, name string) error

	// LastRow returns the index of the last row holding any value, or 0 for
	// an empty grid.
	LastRow(ctx context.Context) (int, error)

	// WriteRow stores cells, keyed by 1-based column, into row.
	WriteRow(ctx context.Context, row int, cells map[int]Cell) error

	// Rows returns the grid from row 1 to LastRow. Each row is trimmed of
	// trailing empty cells.
	Rows(ctx context.Context) ([][]Cell, error)
}

// Store owns a set of named tables.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// FindOrCreate returns the named table, creating it with the date
	// header cell when it does not exist yet.
	FindOrCreate(ctx context.Context, name string) (Table, error)

	// Get returns an existing table or ErrTableNotFound.
	Get(ctx context.Context, name string) (Table, error)

	// List returns table names in creation order.
	List(ctx context.Context) ([]string, error)
}

// NewStore creates the store selected by cfg.Driver.
func NewStore(log logrus.FieldLogger, cfg *config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		owner, err := fsutil.ParseOwner(cfg.File.Owner)
		if err != nil {
			return nil, fmt.Errorf("parsing store.file.owner: %w", err)
		}

		return NewFileStore(log, cfg.File.Path, owner), nil
	case "database":
		return NewDatabaseStore(log, &cfg.Database), nil
	case "sheets":
		return NewSheetsStore(log, &cfg.Sheets), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// trimRow drops trailing empty cells.
func trimRow(row []Cell) []Cell {
	end := len(row)
	for end > 0 && row[end-1].IsEmpty() {
		end--
	}

	return row[:end]
}

// headerFromRow converts row 1 into header names.
func headerFromRow(row []Cell) []string {
	row = trimRow(row)
	if len(row) < firstValueColumn {
		return []string{}
	}

	names := make([]string, 0, len(row)-1)
	for _, c := range row[firstValueColumn-1:] {
		names = append(names, c.String())
	}

	return names
}

// nextHeaderColumn returns the column AppendColumn writes to.
func nextHeaderColumn(header []string) int {
	return len(header) + firstValueColumn
}
