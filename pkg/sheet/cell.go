package sheet

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

type cellKind uint8

const (
	kindEmpty cellKind = iota
	kindText
	kindNumber
)

// Cell is a single grid value: empty, text, or number.
type Cell struct {
	kind   cellKind
	text   string
	number float64
}

// Text returns a text cell.
func Text(s string) Cell {
	return Cell{kind: kindText, text: s}
}

// Number returns a numeric cell.
func Number(f float64) Cell {
	return Cell{kind: kindNumber, number: f}
}

// Int returns a numeric cell holding an integer.
func Int(i int) Cell {
	return Number(float64(i))
}

// IsEmpty reports whether the cell holds no value.
func (c Cell) IsEmpty() bool {
	return c.kind == kindEmpty
}

// IsNumber reports whether the cell holds a number.
func (c Cell) IsNumber() bool {
	return c.kind == kindNumber
}

// Float returns the numeric value and whether the cell is numeric.
func (c Cell) Float() (float64, bool) {
	return c.number, c.kind == kindNumber
}

// String renders the cell as it would appear in a CSV export.
func (c Cell) String() string {
	switch c.kind {
	case kindText:
		return c.text
	case kindNumber:
		return strconv.FormatFloat(c.number, 'f', -1, 64)
	default:
		return ""
	}
}

// Interface returns nil, a string or a float64.
func (c Cell) Interface() any {
	switch c.kind {
	case kindText:
		return c.text
	case kindNumber:
		return c.number
	default:
		return nil
	}
}

// CellFromValue converts a decoded scalar into a Cell.
func CellFromValue(v any) Cell {
	switch val := v.(type) {
	case nil:
		return Cell{}
	case string:
		if val == "" {
			return Cell{}
		}

		return Text(val)
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Int(val)
	case int64:
		return Number(float64(val))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return Number(f)
		}

		return Text(val.String())
	case Cell:
		return val
	default:
		return Text(fmt.Sprint(val))
	}
}

// MarshalJSON encodes the cell as null, a string or a number.
func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Interface())
}

// MarshalYAML encodes the cell as null, a string or a number.
func (c Cell) MarshalYAML() (any, error) {
	return c.Interface(), nil
}

// UnmarshalYAML decodes a scalar node. Numbers stay numeric, every other
// scalar becomes text.
func (c *Cell) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: cell must be a scalar", value.Line)
	}

	switch value.Tag {
	case "!!null":
		*c = Cell{}
	case "!!int", "!!float":
		var f float64
		if err := value.Decode(&f); err != nil {
			return fmt.Errorf("line %d: decoding number: %w", value.Line, err)
		}

		*c = Number(f)
	default:
		*c = Text(value.Value)
	}

	return nil
}
