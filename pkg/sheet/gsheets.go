package sheet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
)

// sheetsStore keeps each table as a tab of one Google spreadsheet.
type sheetsStore struct {
	log  logrus.FieldLogger
	cfg  *config.SheetsStoreConfig
	opts []option.ClientOption
	svc  *sheets.Service

	mu     sync.Mutex
	titles []string
}

// Compile-time interface checks.
var (
	_ Store = (*sheetsStore)(nil)
	_ Table = (*sheetsTable)(nil)
)

// NewSheetsStore creates a Store backed by the Google Sheets API. Extra
// client options are appended after the credentials option.
func NewSheetsStore(
	log logrus.FieldLogger,
	cfg *config.SheetsStoreConfig,
	opts ...option.ClientOption,
) Store {
	return &sheetsStore{
		log:  log.WithField("component", "sheets-store"),
		cfg:  cfg,
		opts: opts,
	}
}

// Start creates the API client and verifies the spreadsheet is reachable.
func (s *sheetsStore) Start(ctx context.Context) error {
	opts := make([]option.ClientOption, 0, len(s.opts)+1)
	if s.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsFile))
	}

	opts = append(opts, s.opts...)

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating sheets client: %w", err)
	}

	s.svc = svc

	if err := s.refresh(ctx); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"spreadsheet": s.cfg.SpreadsheetID,
		"sheets":      len(s.titles),
	}).Info("Spreadsheet connected")

	return nil
}

func (s *sheetsStore) Stop() error {
	return nil
}

// refresh reloads the sheet titles.
func (s *sheetsStore) refresh(ctx context.Context) error {
	ss, err := s.svc.Spreadsheets.Get(s.cfg.SpreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("reading spreadsheet: %w", err)
	}

	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}

	s.mu.Lock()
	s.titles = titles
	s.mu.Unlock()

	return nil
}

func (s *sheetsStore) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.titles {
		if t == name {
			return true
		}
	}

	return false
}

func (s *sheetsStore) FindOrCreate(ctx context.Context, name string) (Table, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	t := &sheetsTable{store: s, name: name}

	if s.has(name) {
		return t, nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}

	if _, err := s.svc.Spreadsheets.BatchUpdate(s.cfg.SpreadsheetID, req).
		Context(ctx).
		Do(); err != nil {
		return nil, fmt.Errorf("adding sheet %q: %w", name, err)
	}

	s.mu.Lock()
	s.titles = append(s.titles, name)
	s.mu.Unlock()

	if err := t.update(ctx, cellRange(name, 1, 1), []any{DateHeader}); err != nil {
		return nil, fmt.Errorf("writing date header: %w", err)
	}

	s.log.WithField("table", name).Info("Created sheet")

	return t, nil
}

func (s *sheetsStore) Get(ctx context.Context, name string) (Table, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	if !s.has(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrTableNotFound)
	}

	return &sheetsTable{store: s, name: name}, nil
}

func (s *sheetsStore) List(ctx context.Context) ([]string, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.titles))
	copy(names, s.titles)

	return names, nil
}

type sheetsTable struct {
	store *sheetsStore
	name  string
}

func (t *sheetsTable) Name() string {
	return t.name
}

func (t *sheetsTable) Header(ctx context.Context) ([]string, error) {
	grid, err := t.values(ctx, quoteSheetName(t.name)+"!1:1")
	if err != nil {
		return nil, err
	}

	if len(grid) == 0 {
		return []string{}, nil
	}

	return headerFromRow(grid[0]), nil
}

func (t *sheetsTable) AppendColumn(ctx context.Context, name string) error {
	header, err := t.Header(ctx)
	if err != nil {
		return err
	}

	return t.update(ctx, cellRange(t.name, 1, nextHeaderColumn(header)), []any{name})
}

func (t *sheetsTable) LastRow(ctx context.Context) (int, error) {
	grid, err := t.values(ctx, quoteSheetName(t.name))
	if err != nil {
		return 0, err
	}

	return len(grid), nil
}

func (t *sheetsTable) WriteRow(ctx context.Context, row int, cells map[int]Cell) error {
	if row < 1 {
		return fmt.Errorf("invalid row %d", row)
	}

	width := 0
	for col := range cells {
		if col < 1 {
			return fmt.Errorf("invalid column %d", col)
		}

		width = max(width, col)
	}

	if width == 0 {
		return nil
	}

	// nil entries are sent as JSON null, which leaves those cells untouched.
	values := make([]any, width)
	for col, c := range cells {
		values[col-1] = c.Interface()
	}

	return t.update(ctx, cellRange(t.name, row, 1), values)
}

func (t *sheetsTable) Rows(ctx context.Context) ([][]Cell, error) {
	return t.values(ctx, quoteSheetName(t.name))
}

// values reads a range as unformatted values; trailing empty rows and cells
// are omitted by the API.
func (t *sheetsTable) values(ctx context.Context, rng string) ([][]Cell, error) {
	vr, err := t.store.svc.Spreadsheets.Values.Get(t.store.cfg.SpreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("reading range %s: %w", rng, err)
	}

	grid := make([][]Cell, len(vr.Values))

	for i, row := range vr.Values {
		cells := make([]Cell, len(row))
		for j, v := range row {
			cells[j] = CellFromValue(v)
		}

		grid[i] = trimRow(cells)
	}

	return grid, nil
}

// update writes one row of values starting at rng.
func (t *sheetsTable) update(ctx context.Context, rng string, values []any) error {
	vr := &sheets.ValueRange{Values: [][]any{values}}

	if _, err := t.store.svc.Spreadsheets.Values.Update(t.store.cfg.SpreadsheetID, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("writing range %s: %w", rng, err)
	}

	return nil
}

// quoteSheetName quotes a sheet title for A1 notation.
func quoteSheetName(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// cellRange returns the A1 reference of a single cell.
func cellRange(name string, row, col int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheetName(name), columnLetters(col), row)
}

// columnLetters converts a 1-based column index to its A1 letters.
func columnLetters(col int) string {
	var b []byte

	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}

	return string(b)
}
