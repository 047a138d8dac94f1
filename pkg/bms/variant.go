package bms

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/berfenger/antra2mqtt/pkg/fieldspec"
)

var ErrUnknownVariant = errors.New("unknown bms variant")

// Variant turns the INFO payload of a telemetry response into a Frame.
type Variant interface {
	Name() string
	Table() *fieldspec.Table
	DecodeFrame(info []byte, ts time.Time) (*Frame, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Variant{}
)

// Register makes a variant available by name. It panics on duplicates, as
// variants register from init functions.
func Register(v Variant) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[v.Name()]; exists {
		panic(fmt.Sprintf("bms variant %s registered twice", v.Name()))
	}
	registry[v.Name()] = v
}

func Lookup(name string) (Variant, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	v, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (known: %v)", ErrUnknownVariant, name, names())
	}
	return v, nil
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names()
}

func names() []string {
	n := make([]string, 0, len(registry))
	for name := range registry {
		n = append(n, name)
	}
	slices.Sort(n)
	return n
}

// TableVariant is a variant fully described by a field table.
type TableVariant struct {
	name  string
	table *fieldspec.Table
}

func NewTableVariant(name string, table *fieldspec.Table) *TableVariant {
	return &TableVariant{name: name, table: table}
}

func (v *TableVariant) Name() string {
	return v.name
}

func (v *TableVariant) Table() *fieldspec.Table {
	return v.table
}

func (v *TableVariant) DecodeFrame(info []byte, ts time.Time) (*Frame, error) {
	header, records, err := v.table.DecodeFrame(info)
	if err != nil {
		return nil, err
	}
	frame := &Frame{
		Timestamp:     ts,
		Variant:       v.name,
		Model:         v.table.Model,
		LayoutVersion: v.table.Version,
		Header:        header,
		Batteries:     make([]Battery, len(records)),
	}
	for i, r := range records {
		frame.Batteries[i] = Battery{Index: i, Values: r}
	}
	return frame, nil
}

var _ Variant = (*TableVariant)(nil)
