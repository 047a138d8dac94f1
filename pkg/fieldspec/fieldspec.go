package fieldspec

import (
	"fmt"
	"slices"
)

type Kind string

const (
	KindRawStatus Kind = "raw_status"
	KindPhysical  Kind = "physical_quantity"
	KindEnum      Kind = "enum"
)

type Encoding string

const (
	// one frame byte is one ASCII hex digit, 4 digits form a 16 bit register
	EncodingASCIIHex Encoding = "ascii_hex"
	// big endian binary block, as read from modbus registers
	EncodingBinary Encoding = "binary"
)

// FieldSpec maps a byte range of a block to a named value.
type FieldSpec struct {
	Name   string  `mapstructure:"name"`
	Offset int     `mapstructure:"offset"`
	Width  int     `mapstructure:"width"`
	Scale  float64 `mapstructure:"scale"`
	Kind   Kind    `mapstructure:"kind"`
	Signed bool    `mapstructure:"signed"`
	Unit   string  `mapstructure:"unit"`
	Enum   []int64 `mapstructure:"enum"`
}

// ArraySpec is a repeated field. Its element count is read from CountField,
// fields located after the array move by (count-Nominal)*Width.
type ArraySpec struct {
	Name       string  `mapstructure:"name"`
	CountField string  `mapstructure:"count_field"`
	Offset     int     `mapstructure:"offset"`
	Width      int     `mapstructure:"width"`
	Nominal    int     `mapstructure:"nominal"`
	Max        int     `mapstructure:"max"`
	Scale      float64 `mapstructure:"scale"`
	Signed     bool    `mapstructure:"signed"`
	Unit       string  `mapstructure:"unit"`
}

type Layout struct {
	Name     string      `mapstructure:"name"`
	Encoding Encoding    `mapstructure:"encoding"`
	Length   int         `mapstructure:"length"`
	Fields   []FieldSpec `mapstructure:"fields"`
	Arrays   []ArraySpec `mapstructure:"arrays"`
}

// Table is the complete field map of one BMS model/firmware: a pack header
// followed by BatteryCountField battery records.
type Table struct {
	Model             string `mapstructure:"model"`
	Firmware          string `mapstructure:"firmware"`
	Version           string `mapstructure:"version"`
	BatteryCountField string `mapstructure:"battery_count_field"`
	MaxBatteries      int    `mapstructure:"max_batteries"`
	Header            Layout `mapstructure:"header"`
	Battery           Layout `mapstructure:"battery"`
}

func (f FieldSpec) scale() float64 {
	if f.Scale == 0 {
		return 1
	}
	return f.Scale
}

func (a ArraySpec) scale() float64 {
	if a.Scale == 0 {
		return 1
	}
	return a.Scale
}

func (a ArraySpec) maxCount() int {
	if a.Max > 0 {
		return a.Max
	}
	return a.Nominal
}

func (l Layout) maxWidth() int {
	if l.Encoding == EncodingASCIIHex {
		return 16
	}
	return 8
}

func (l Layout) Field(name string) (FieldSpec, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

type span struct {
	name       string
	start, end int
}

// Validate checks that every range lies within Length, that no two ranges
// overlap and that names, kinds and array count fields are consistent.
func (l Layout) Validate() error {
	if l.Encoding != EncodingASCIIHex && l.Encoding != EncodingBinary {
		return fmt.Errorf("layout %s: unknown encoding %q", l.Name, l.Encoding)
	}
	if l.Length <= 0 {
		return fmt.Errorf("layout %s: length must be > 0", l.Name)
	}

	names := map[string]bool{}
	var spans []span

	for _, f := range l.Fields {
		if f.Name == "" {
			return fmt.Errorf("layout %s: field at offset %d has no name", l.Name, f.Offset)
		}
		if names[f.Name] {
			return fmt.Errorf("layout %s: duplicated field %s", l.Name, f.Name)
		}
		names[f.Name] = true
		if f.Width <= 0 || f.Width > l.maxWidth() {
			return fmt.Errorf("layout %s: field %s width %d not in [1, %d]", l.Name, f.Name, f.Width, l.maxWidth())
		}
		switch f.Kind {
		case KindRawStatus, KindPhysical:
		case KindEnum:
			if len(f.Enum) == 0 {
				return fmt.Errorf("layout %s: enum field %s declares no values", l.Name, f.Name)
			}
		default:
			return fmt.Errorf("layout %s: field %s has unknown kind %q", l.Name, f.Name, f.Kind)
		}
		spans = append(spans, span{name: f.Name, start: f.Offset, end: f.Offset + f.Width})
	}

	for _, a := range l.Arrays {
		if a.Name == "" || names[a.Name] {
			return fmt.Errorf("layout %s: invalid or duplicated array name %q", l.Name, a.Name)
		}
		names[a.Name] = true
		if a.Width <= 0 || a.Width > l.maxWidth() {
			return fmt.Errorf("layout %s: array %s width %d not in [1, %d]", l.Name, a.Name, a.Width, l.maxWidth())
		}
		if a.Nominal < 0 || a.maxCount() < a.Nominal {
			return fmt.Errorf("layout %s: array %s nominal %d exceeds max %d", l.Name, a.Name, a.Nominal, a.maxCount())
		}
		count, ok := l.Field(a.CountField)
		if !ok {
			return fmt.Errorf("layout %s: array %s count field %q not found", l.Name, a.Name, a.CountField)
		}
		if count.Offset >= a.Offset {
			return fmt.Errorf("layout %s: array %s count field %s must precede the array", l.Name, a.Name, count.Name)
		}
		spans = append(spans, span{name: a.Name, start: a.Offset, end: a.Offset + a.Nominal*a.Width})
	}

	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })
	for i, s := range spans {
		if s.start < 0 || s.end > l.Length {
			return fmt.Errorf("layout %s: %s [%d, %d) out of frame length %d", l.Name, s.name, s.start, s.end, l.Length)
		}
		if i > 0 && spans[i-1].end > s.start {
			return fmt.Errorf("layout %s: %s overlaps %s", l.Name, s.name, spans[i-1].name)
		}
	}
	return nil
}

func (t Table) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("table %s: version is required", t.Model)
	}
	if err := t.Header.Validate(); err != nil {
		return err
	}
	if err := t.Battery.Validate(); err != nil {
		return err
	}
	if t.Header.Encoding != t.Battery.Encoding {
		return fmt.Errorf("table %s: header and battery encodings differ", t.Model)
	}
	if _, ok := t.Header.Field(t.BatteryCountField); !ok {
		return fmt.Errorf("table %s: battery count field %q not in header", t.Model, t.BatteryCountField)
	}
	if t.MaxBatteries <= 0 {
		return fmt.Errorf("table %s: max_batteries must be > 0", t.Model)
	}
	return nil
}
