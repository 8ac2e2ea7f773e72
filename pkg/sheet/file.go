package sheet

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/buildstatsoor/pkg/fsutil"
)

// fileDocument is the on-disk layout of the YAML store.
type fileDocument struct {
	Tables []fileTable `yaml:"tables"`
}

type fileTable struct {
	Name string   `yaml:"name"`
	Rows [][]Cell `yaml:"rows"`
}

// fileStore keeps every table in one YAML file, rewritten atomically after
// each mutation.
type fileStore struct {
	*memoryStore

	log   logrus.FieldLogger
	path  string
	owner *fsutil.OwnerConfig
}

// Compile-time interface check.
var _ Store = (*fileStore)(nil)

// NewFileStore creates a Store backed by the YAML file at path. A non-nil
// owner is applied to every file the store writes.
func NewFileStore(log logrus.FieldLogger, path string, owner *fsutil.OwnerConfig) Store {
	s := &fileStore{
		memoryStore: newMemoryStore(),
		log:         log.WithField("component", "file-store"),
		path:        path,
		owner:       owner,
	}
	s.onChange = s.save

	return s
}

// Start loads the file when it exists.
func (s *fileStore) Start(_ context.Context) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.WithField("path", s.path).Info("Table file not found, starting empty")

		return nil
	}

	if err != nil {
		return fmt.Errorf("reading table file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing table file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range doc.Tables {
		if t.Name == "" {
			return fmt.Errorf("parsing table file: table without a name")
		}

		if _, exists := s.tables[t.Name]; exists {
			return fmt.Errorf("parsing table file: duplicate table %q", t.Name)
		}

		s.addTable(t.Name, t.Rows)
	}

	s.log.WithFields(logrus.Fields{
		"path":   s.path,
		"tables": len(doc.Tables),
	}).Debug("Loaded table file")

	return nil
}

// save writes the document; the caller holds s.mu.
func (s *fileStore) save() error {
	doc := fileDocument{Tables: make([]fileTable, 0, len(s.order))}

	for _, name := range s.order {
		t := s.tables[name]
		rows := make([][]Cell, 0, len(t.rows))

		for _, r := range t.rows {
			rows = append(rows, trimRow(r))
		}

		doc.Tables = append(doc.Tables, fileTable{Name: name, Rows: rows})
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding table file: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path, data, 0o644, s.owner); err != nil {
		return fmt.Errorf("writing table file %s: %w", s.path, err)
	}

	return nil
}
