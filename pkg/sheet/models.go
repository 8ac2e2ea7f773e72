package sheet

import "time"

// Cell kinds as persisted by the database store.
const (
	cellKindText   = "text"
	cellKindNumber = "number"
)

// TableRecord is a named report table.
type TableRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// TableName overrides the gorm default.
func (TableRecord) TableName() string {
	return "report_tables"
}

// CellRecord is one non-empty grid cell.
type CellRecord struct {
	ID      uint    `gorm:"primaryKey"`
	TableID uint    `gorm:"not null;uniqueIndex:idx_report_cells_position"`
	Row     int     `gorm:"column:row_index;not null;uniqueIndex:idx_report_cells_position"`
	Col     int     `gorm:"column:col_index;not null;uniqueIndex:idx_report_cells_position"`
	Kind    string  `gorm:"not null"`
	Text    string  `gorm:"type:text"`
	Number  float64 `gorm:"not null;default:0"`
	Written time.Time
}

// TableName overrides the gorm default.
func (CellRecord) TableName() string {
	return "report_cells"
}

func cellToRecord(tableID uint, row, col int, c Cell) CellRecord {
	rec := CellRecord{
		TableID: tableID,
		Row:     row,
		Col:     col,
		Written: time.Now().UTC(),
	}

	if c.IsNumber() {
		rec.Kind = cellKindNumber
		rec.Number = c.number
	} else {
		rec.Kind = cellKindText
		rec.Text = c.text
	}

	return rec
}

func recordToCell(rec *CellRecord) Cell {
	if rec.Kind == cellKindNumber {
		return Number(rec.Number)
	}

	return Text(rec.Text)
}
