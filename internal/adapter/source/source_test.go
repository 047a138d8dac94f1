package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/util"
	"github.com/berfenger/antra2mqtt/pkg/bms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFrameSource(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	src, err := NewFrameSource(cfg.BMS, zap.NewNop())
	require.NoError(err)
	defer src.Close()
	assert.Equal("antra", src.Variant().Name())

	frame, err := src.ReadFrame(context.Background())
	require.NoError(err)
	assert.Len(frame.Batteries, 2)

	cfg.BMS.Transport = "can"
	_, err = NewFrameSource(cfg.BMS, zap.NewNop())
	assert.Error(err)

	cfg.BMS.Transport = config.TRANSPORT_TEST
	cfg.BMS.Variant = "growatt"
	_, err = NewFrameSource(cfg.BMS, zap.NewNop())
	assert.ErrorIs(err, bms.ErrUnknownVariant)
}

func TestVariantLayoutFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "layout.yaml")

	cfg := util.LoadTestConfig()
	cfg.BMS.LayoutFile = path
	_, err := Variant(cfg.BMS)
	assert.ErrorIs(err, os.ErrNotExist)

	require.NoError(os.WriteFile(path, []byte("fields: [\n"), 0o644))
	_, err = Variant(cfg.BMS)
	assert.Error(err)

	// a layout file replaces the table of the named variant
	cfg.BMS.LayoutFile = "../../../pkg/pylontech/layouts/antra_v2.yaml"
	cfg.BMS.Variant = "custom"
	v, err := Variant(cfg.BMS)
	require.NoError(err)
	assert.Equal("custom", v.Name())

	src, err := NewFrameSource(cfg.BMS, zap.NewNop())
	require.NoError(err)
	frame, err := src.ReadFrame(context.Background())
	require.NoError(err)
	assert.Len(frame.Batteries, 2)
}
