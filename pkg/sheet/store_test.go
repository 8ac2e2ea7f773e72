package sheet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// storeFactories returns a fresh store per driver. The sheets driver talks
// to an in-process fake of the Sheets API.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()

	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			return NewFileStore(quietLogger(), filepath.Join(t.TempDir(), "tables.yaml"), nil)
		},
		"sqlite": func(t *testing.T) Store {
			return NewDatabaseStore(quietLogger(), &config.DatabaseStoreConfig{
				Driver: "sqlite",
				SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
			})
		},
		"sheets": func(t *testing.T) Store {
			_, s := newTestSheetsStore(t)

			return s
		},
	}
}

func startStore(t *testing.T, newStore func(t *testing.T) Store) Store {
	t.Helper()

	s := newStore(t)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_FindOrCreate(t *testing.T) {
	for driver, factory := range storeFactories(t) {
		t.Run(driver, func(t *testing.T) {
			s := startStore(t, factory)
			ctx := context.Background()

			_, err := s.Get(ctx, "Build Count")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTableNotFound))

			first, err := s.FindOrCreate(ctx, "Build Count")
			require.NoError(t, err)
			assert.Equal(t, "Build Count", first.Name())

			second, err := s.FindOrCreate(ctx, "Build Count")
			require.NoError(t, err)
			assert.Equal(t, first.Name(), second.Name())

			_, err = s.FindOrCreate(ctx, "Hold Avg Time")
			require.NoError(t, err)

			names, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"Build Count", "Hold Avg Time"}, names)

			rows, err := first.Rows(ctx)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, []Cell{Text(DateHeader)}, rows[0])

			last, err := first.LastRow(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, last)

			header, err := first.Header(ctx)
			require.NoError(t, err)
			assert.Empty(t, header)

			_, err = s.FindOrCreate(ctx, "")
			require.Error(t, err)
		})
	}
}

func TestStore_AppendColumnAndWriteRow(t *testing.T) {
	for driver, factory := range storeFactories(t) {
		t.Run(driver, func(t *testing.T) {
			s := startStore(t, factory)
			ctx := context.Background()

			table, err := s.FindOrCreate(ctx, "grid")
			require.NoError(t, err)

			require.NoError(t, table.AppendColumn(ctx, "A"))
			require.NoError(t, table.AppendColumn(ctx, "B"))

			header, err := table.Header(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, header)

			require.NoError(t, table.WriteRow(ctx, 2, map[int]Cell{
				1: Text("2024/03/14"),
				3: Number(1.5),
			}))

			last, err := table.LastRow(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, last)

			rows, err := table.Rows(ctx)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, []Cell{Text(DateHeader), Text("A"), Text("B")}, rows[0])
			assert.Equal(t, []Cell{Text("2024/03/14"), {}, Number(1.5)}, rows[1])

			require.Error(t, table.WriteRow(ctx, 0, map[int]Cell{1: Text("x")}))
		})
	}
}

func TestFileStore_PersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tables.yaml")
	ctx := context.Background()

	s := NewFileStore(quietLogger(), path, nil)
	require.NoError(t, s.Start(ctx))

	syncer := NewSynchronizer(quietLogger(), s)
	_, err := syncer.Sync(ctx, "Build Avg Time", "2024/03/14", []Entry{
		{Key: "X", Value: Number(0.25)},
		{Key: "123", Value: Number(2)},
	})
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	reopened := NewFileStore(quietLogger(), path, nil)
	require.NoError(t, reopened.Start(ctx))

	table, err := reopened.Get(ctx, "Build Avg Time")
	require.NoError(t, err)

	header, err := table.Header(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "123"}, header)

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []Cell{Text("2024/03/14"), Number(0.25), Number(2)}, rows[1])
}

func TestFileStore_RejectsDuplicateTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, writeFile(path, "tables:\n  - name: a\n  - name: a\n"))

	s := NewFileStore(quietLogger(), path, nil)
	require.Error(t, s.Start(context.Background()))
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(quietLogger(), &config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewStore(quietLogger(), &config.StoreConfig{Driver: "excel"})
	require.Error(t, err)
}
