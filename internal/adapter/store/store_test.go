package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testState() domain.AccountingState {
	state := domain.NewAccountingState(2, 2400)
	state.TotalChargedEnergy = 1250.5
	state.TotalDischargedEnergy = 800
	state.EnergySinceLastCharge = 120
	state.ChargeStatus = domain.ChargeStatusDischarging
	state.StoredEnergy = []float64{1800, 1700.25}
	state.LastSampleTimestamp = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state.UpdatedAt = state.LastSampleTimestamp
	return state
}

func TestFileStoreRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "accounting.json")
	s := NewFileStore(path)

	_, ok, err := s.Load(ctx)
	require.NoError(err)
	assert.False(ok)

	state := testState()
	require.NoError(s.Save(ctx, state))
	state.TotalChargedEnergy = 1300
	require.NoError(s.Save(ctx, state))

	loaded, ok, err := s.Load(ctx)
	require.NoError(err)
	assert.True(ok)
	assert.Equal(1300.0, loaded.TotalChargedEnergy)
	assert.Equal([]float64{1800, 1700.25}, loaded.StoredEnergy)
	assert.Equal(domain.ChargeStatusDischarging, loaded.ChargeStatus)
	assert.True(state.LastSampleTimestamp.Equal(loaded.LastSampleTimestamp))

	// no temporary files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(err)
	assert.Len(entries, 1)
}

func TestFileStoreCorrupt(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "accounting.json")
	require.NoError(os.WriteFile(path, []byte("{"), 0o644))

	_, ok, err := NewFileStore(path).Load(context.Background())
	require.Error(err)
	require.False(ok)
}

func TestStateFields(t *testing.T) {
	assert := assert.New(t)

	fields := StateFields(testState())
	assert.Equal("1250.500", fields["total-charged-energy"])
	assert.Equal("discharging", fields["charge-status"])
	assert.Equal("3500.250", fields["total-stored-energy"])
	assert.Equal("1700.250", fields["stored-energy:2"])
	assert.Equal("2400.000", fields["capacity:1"])
	assert.Equal("2", fields["batteries"])
}

func TestNewStateStore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	logger := zap.NewNop()

	s, err := NewStateStore(config.StoreConfig{Type: config.STORE_NONE}, logger)
	require.NoError(err)
	assert.IsType(NoOpStore{}, s)

	_, err = NewStateStore(config.StoreConfig{Type: config.STORE_FILE}, logger)
	assert.Error(err)

	s, err = NewStateStore(config.StoreConfig{Type: config.STORE_REDIS, Redis: config.RedisConfig{Addr: "localhost:6379"}}, logger)
	require.NoError(err)
	assert.Equal(defaultRedisKey+":fields", s.(*RedisStore).FieldsKey())
	require.NoError(s.Close())

	_, err = NewStateStore(config.StoreConfig{Type: "sql"}, logger)
	assert.Error(err)
}
