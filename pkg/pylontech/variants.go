package pylontech

import (
	"embed"

	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/fieldspec"
)

const (
	VariantAntra  = "antra"
	VariantModbus = "pylontech_modbus"
	antraLayout   = "layouts/antra_v2.yaml"
	modbusLayout  = "layouts/pylontech_modbus.yaml"
)

//go:embed layouts/*.yaml
var layouts embed.FS

func mustLayout(path string) *fieldspec.Table {
	data, err := layouts.ReadFile(path)
	if err != nil {
		panic(err)
	}
	return fieldspec.MustLoadTable(data)
}

func init() {
	bms.Register(bms.NewTableVariant(VariantAntra, mustLayout(antraLayout)))
	bms.Register(bms.NewTableVariant(VariantModbus, mustLayout(modbusLayout)))
}
