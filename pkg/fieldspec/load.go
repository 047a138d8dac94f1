package fieldspec

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
)

// LoadTable reads a YAML table and validates it.
func LoadTable(r io.Reader) (*Table, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read layout table: %w", err)
	}

	var t Table
	if err := v.Unmarshal(&t); err != nil {
		return nil, fmt.Errorf("parse layout table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadTable(bytes.NewReader(data))
}

// MustLoadTable is meant for tables embedded in the binary.
func MustLoadTable(data []byte) *Table {
	t, err := LoadTable(bytes.NewReader(data))
	if err != nil {
		panic(err)
	}
	return t
}
