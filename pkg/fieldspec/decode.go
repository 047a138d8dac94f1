package fieldspec

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"
)

type Value struct {
	Kind   Kind
	Unit   string
	Raw    int64
	Scaled float64
	// Elements holds the scaled items of an array field
	Elements    []float64
	RawElements []int64
}

type Values map[string]Value

func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

func (v Values) Float(name string) float64 {
	return v[name].Scaled
}

func (v Values) Int(name string) int64 {
	return v[name].Raw
}

func (v Values) Elements(name string) []float64 {
	return v[name].Elements
}

type item struct {
	field *FieldSpec
	array *ArraySpec
}

func (i item) offset() int {
	if i.field != nil {
		return i.field.Offset
	}
	return i.array.Offset
}

func (l Layout) items() []item {
	items := make([]item, 0, len(l.Fields)+len(l.Arrays))
	for i := range l.Fields {
		items = append(items, item{field: &l.Fields[i]})
	}
	for i := range l.Arrays {
		items = append(items, item{array: &l.Arrays[i]})
	}
	slices.SortStableFunc(items, func(a, b item) int { return a.offset() - b.offset() })
	return items
}

// Decode extracts every field of the layout from block. It either returns
// all values or an error, never a partial result.
func (l Layout) Decode(block []byte) (Values, error) {
	values, _, err := l.decode(block)
	return values, err
}

// decode returns the values and the number of bytes consumed, which differs
// from Length when arrays are shorter or longer than their nominal count.
func (l Layout) decode(block []byte) (Values, int, error) {
	if len(block) < l.minLength() {
		return nil, 0, &DecodeError{Kind: TooShort, Layout: l.Name,
			Detail: fmt.Sprintf("got %d bytes, need at least %d", len(block), l.minLength())}
	}

	values := make(Values, len(l.Fields)+len(l.Arrays))
	shift := 0
	for _, it := range l.items() {
		if it.field != nil {
			f := it.field
			raw, err := l.extract(block, f.Offset+shift, f.Width, f.Signed, f.Name)
			if err != nil {
				return nil, 0, err
			}
			if f.Kind == KindEnum && !slices.Contains(f.Enum, raw) {
				return nil, 0, &DecodeError{Kind: InvalidEnum, Layout: l.Name, Field: f.Name,
					Detail: fmt.Sprintf("value %d not in %v", raw, f.Enum)}
			}
			values[f.Name] = Value{
				Kind:   f.Kind,
				Unit:   f.Unit,
				Raw:    raw,
				Scaled: float64(raw) * f.scale(),
			}
			continue
		}

		a := it.array
		count := int(values[a.CountField].Raw)
		if count < 0 || count > a.maxCount() {
			return nil, 0, &DecodeError{Kind: OutOfRange, Layout: l.Name, Field: a.Name,
				Detail: fmt.Sprintf("count %d not in [0, %d]", count, a.maxCount())}
		}
		v := Value{
			Kind:        KindPhysical,
			Unit:        a.Unit,
			Raw:         int64(count),
			Scaled:      float64(count),
			Elements:    make([]float64, count),
			RawElements: make([]int64, count),
		}
		for i := 0; i < count; i++ {
			raw, err := l.extract(block, a.Offset+shift+i*a.Width, a.Width, a.Signed, fmt.Sprintf("%s[%d]", a.Name, i))
			if err != nil {
				return nil, 0, err
			}
			v.RawElements[i] = raw
			v.Elements[i] = float64(raw) * a.scale()
		}
		values[a.Name] = v
		shift += (count - a.Nominal) * a.Width
	}

	consumed := l.Length + shift
	if consumed > len(block) {
		return nil, 0, &DecodeError{Kind: TooShort, Layout: l.Name,
			Detail: fmt.Sprintf("got %d bytes, need %d", len(block), consumed)}
	}
	return values, consumed, nil
}

// minLength is the shortest block that can hold the layout, i.e. every
// array empty.
func (l Layout) minLength() int {
	n := l.Length
	for _, a := range l.Arrays {
		n -= a.Nominal * a.Width
	}
	return n
}

func (l Layout) extract(block []byte, offset, width int, signed bool, name string) (int64, error) {
	if offset < 0 || offset+width > len(block) {
		return 0, &DecodeError{Kind: TooShort, Layout: l.Name, Field: name,
			Detail: fmt.Sprintf("range [%d, %d) beyond block of %d bytes", offset, offset+width, len(block))}
	}
	chunk := block[offset : offset+width]

	var raw uint64
	var bits int
	switch l.Encoding {
	case EncodingASCIIHex:
		v, err := strconv.ParseUint(string(chunk), 16, 64)
		if err != nil {
			return 0, &DecodeError{Kind: OutOfRange, Layout: l.Name, Field: name,
				Detail: fmt.Sprintf("%q is not hex", chunk)}
		}
		raw = v
		bits = width * 4
	default:
		var buf [8]byte
		copy(buf[8-width:], chunk)
		raw = binary.BigEndian.Uint64(buf[:])
		bits = width * 8
	}

	if signed && bits < 64 && raw&(1<<(bits-1)) != 0 {
		return int64(raw) - int64(1)<<bits, nil
	}
	return int64(raw), nil
}

// DecodeFrame decodes the pack header followed by as many battery records as
// the header announces.
func (t Table) DecodeFrame(info []byte) (Values, []Values, error) {
	header, pos, err := t.Header.decode(info)
	if err != nil {
		return nil, nil, err
	}

	count := int(header.Int(t.BatteryCountField))
	if count < 0 || count > t.MaxBatteries {
		return nil, nil, &DecodeError{Kind: OutOfRange, Layout: t.Header.Name, Field: t.BatteryCountField,
			Detail: fmt.Sprintf("battery count %d not in [0, %d]", count, t.MaxBatteries)}
	}

	batteries := make([]Values, 0, count)
	for i := 0; i < count; i++ {
		if pos >= len(info) {
			return nil, nil, &DecodeError{Kind: TooShort, Layout: t.Battery.Name,
				Detail: fmt.Sprintf("battery %d of %d missing", i+1, count)}
		}
		battery, n, err := t.Battery.decode(info[pos:])
		if err != nil {
			return nil, nil, fmt.Errorf("battery %d: %w", i+1, err)
		}
		batteries = append(batteries, battery)
		pos += n
	}
	return header, batteries, nil
}
