package sheet

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
)

// databaseStore keeps tables as cell rows in SQLite or PostgreSQL.
type databaseStore struct {
	log logrus.FieldLogger
	cfg *config.DatabaseStoreConfig
	db  *gorm.DB
}

// Compile-time interface checks.
var (
	_ Store = (*databaseStore)(nil)
	_ Table = (*databaseTable)(nil)
)

// NewDatabaseStore creates a Store backed by the configured database driver.
func NewDatabaseStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseStoreConfig,
) Store {
	return &databaseStore{
		log: log.WithField("component", "database-store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *databaseStore) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		// A second connection to ":memory:" would open a different database.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&TableRecord{},
		&CellRecord{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *databaseStore) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *databaseStore) FindOrCreate(ctx context.Context, name string) (Table, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}

	var rec TableRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ?", name).First(&rec).Error
		if err == nil {
			return nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("finding table: %w", err)
		}

		rec = TableRecord{Name: name}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("creating table: %w", err)
		}

		header := cellToRecord(rec.ID, 1, 1, Text(DateHeader))
		if err := tx.Create(&header).Error; err != nil {
			return fmt.Errorf("writing date header: %w", err)
		}

		s.log.WithField("table", name).Info("Created table")

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &databaseTable{store: s, id: rec.ID, name: rec.Name}, nil
}

func (s *databaseStore) Get(ctx context.Context, name string) (Table, error) {
	var rec TableRecord

	err := s.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%q: %w", name, ErrTableNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("getting table: %w", err)
	}

	return &databaseTable{store: s, id: rec.ID, name: rec.Name}, nil
}

func (s *databaseStore) List(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&TableRecord{}).
		Order("id ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	return names, nil
}

type databaseTable struct {
	store *databaseStore
	id    uint
	name  string
}

func (t *databaseTable) Name() string {
	return t.name
}

func (t *databaseTable) Header(ctx context.Context) ([]string, error) {
	var cells []CellRecord
	if err := t.store.db.WithContext(ctx).
		Where("table_id = ? AND row_index = 1 AND col_index >= ?", t.id, firstValueColumn).
		Order("col_index ASC").
		Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	row := make([]Cell, 0, len(cells)+1)
	row = append(row, Text(DateHeader))

	for i := range cells {
		for len(row) < cells[i].Col-1 {
			row = append(row, Cell{})
		}

		row = append(row, recordToCell(&cells[i]))
	}

	return headerFromRow(row), nil
}

func (t *databaseTable) AppendColumn(ctx context.Context, name string) error {
	return t.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&CellRecord{}).
			Where("table_id = ? AND row_index = 1", t.id).
			Select("COALESCE(MAX(col_index), 1)").
			Row().Scan(&last); err != nil {
			return fmt.Errorf("reading last header column: %w", err)
		}

		rec := cellToRecord(t.id, 1, max(last, 1)+1, Text(name))
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("writing header cell: %w", err)
		}

		return nil
	})
}

func (t *databaseTable) LastRow(ctx context.Context) (int, error) {
	var last int
	if err := t.store.db.WithContext(ctx).
		Model(&CellRecord{}).
		Where("table_id = ?", t.id).
		Select("COALESCE(MAX(row_index), 0)").
		Row().Scan(&last); err != nil {
		return 0, fmt.Errorf("reading last row: %w", err)
	}

	return last, nil
}

func (t *databaseTable) WriteRow(ctx context.Context, row int, cells map[int]Cell) error {
	if row < 1 {
		return fmt.Errorf("invalid row %d", row)
	}

	records := make([]CellRecord, 0, len(cells))

	for col, c := range cells {
		if col < 1 {
			return fmt.Errorf("invalid column %d", col)
		}

		if c.IsEmpty() {
			continue
		}

		records = append(records, cellToRecord(t.id, row, col, c))
	}

	if len(records) == 0 {
		return nil
	}

	if err := t.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "table_id"}, {Name: "row_index"}, {Name: "col_index"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "text", "number", "written"}),
		}).
		Create(&records).Error; err != nil {
		return fmt.Errorf("writing cells: %w", err)
	}

	return nil
}

func (t *databaseTable) Rows(ctx context.Context) ([][]Cell, error) {
	var cells []CellRecord
	if err := t.store.db.WithContext(ctx).
		Where("table_id = ?", t.id).
		Order("row_index ASC, col_index ASC").
		Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("reading cells: %w", err)
	}

	if len(cells) == 0 {
		return [][]Cell{}, nil
	}

	grid := make([][]Cell, cells[len(cells)-1].Row)

	for i := range cells {
		r := cells[i].Row - 1
		for len(grid[r]) < cells[i].Col-1 {
			grid[r] = append(grid[r], Cell{})
		}

		grid[r] = append(grid[r], recordToCell(&cells[i]))
	}

	return grid, nil
}
