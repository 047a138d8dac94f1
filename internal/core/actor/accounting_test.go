package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/antra2mqtt/internal/adapter/actor"
	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	"github.com/berfenger/antra2mqtt/internal/core/service"
	"github.com/berfenger/antra2mqtt/internal/util"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"
	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/pylontech"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu    sync.Mutex
	state *domain.AccountingState
	saves int
}

func (s *memoryStore) Load(context.Context) (domain.AccountingState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.AccountingState{}, false, nil
	}
	return s.state.Snapshot(), true, nil
}

func (s *memoryStore) Save(_ context.Context, state domain.AccountingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	s.saves++
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}

func (s *memoryStore) Saved() (domain.AccountingState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.AccountingState{}, s.saves
	}
	return s.state.Snapshot(), s.saves
}

// gatedSource blocks every read until the gate is opened.
type gatedSource struct {
	*pylontech.TestSource
	gate chan struct{}
}

func (s *gatedSource) ReadFrame(ctx context.Context) (*bms.Frame, error) {
	select {
	case <-s.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.TestSource.ReadFrame(ctx)
}

type accountingFixture struct {
	as         *actor.ActorSystem
	pid        *actor.PID
	source     *pylontech.TestSource
	store      *memoryStore
	eventCount func(id string) int
}

func newAccountingFixture(t *testing.T, cfg config.Config, store *memoryStore, wrap func(*pylontech.TestSource) port.FrameSource) accountingFixture {
	variant, err := bms.Lookup(pylontech.VariantAntra)
	require.NoError(t, err)
	source, err := pylontech.NewTestSource(variant)
	require.NoError(t, err)
	var frameSource port.FrameSource = source
	if wrap != nil {
		frameSource = wrap(source)
	}

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)

	var mu sync.Mutex
	counts := map[string]int{}
	es := &eventstream.EventStream{}
	es.Subscribe(func(ev any) {
		if e, ok := ev.(domain.SensorUpdateEvent); ok {
			mu.Lock()
			counts[e.SensorId()]++
			mu.Unlock()
		}
	})

	bmsPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewBMSActor(frameSource, 5*time.Second, logger)
	}))
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewAccountingActor(&cfg, bmsPID, store, es, logger)
	}))
	return accountingFixture{
		as:     as,
		pid:    pid,
		source: source,
		store:  store,
		eventCount: func(id string) int {
			mu.Lock()
			defer mu.Unlock()
			return counts[id]
		},
	}
}

func getState(t *testing.T, f accountingFixture) domain.GetAccountingStateResponse {
	res, err := f.as.Root.RequestFuture(f.pid, domain.GetAccountingStateRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.GetAccountingStateResponse)
	require.True(t, ok)
	return resp
}

func control(t *testing.T, f accountingFixture, req domain.AccountingControlRequest) domain.AccountingControlResponse {
	res, err := f.as.Root.RequestFuture(f.pid, req, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.AccountingControlResponse)
	require.True(t, ok)
	return resp
}

func TestAccountingActorTick(t *testing.T) {
	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	f := newAccountingFixture(t, cfg, &memoryStore{}, nil)
	defer f.as.Shutdown()

	assert.Eventually(func() bool {
		return getState(t, f).State.ChargeStatus == domain.ChargeStatusCharging
	}, 5*time.Second, 50*time.Millisecond)

	resp := getState(t, f)
	// first sample accounts one poll interval at 800.1 W
	assert.InDelta(800.1*30/3600, resp.State.TotalChargedEnergy, 0.001)
	assert.InDelta(800.1, resp.State.ChargeRateWatts, 0.001)
	assert.Equal(0.0, resp.State.TotalDischargedEnergy)
	assert.False(resp.State.LastSampleTimestamp.IsZero())
	assert.NotNil(resp.EstimatedChargeSeconds)
	assert.Equal(1, f.source.Reads())

	assert.Eventually(func() bool {
		return f.eventCount(domain.SENSOR_ID_PACK_VOLTAGE) == 1
	}, time.Second, 20*time.Millisecond)
	// published once on startup and once after the tick
	assert.Equal(2, f.eventCount(domain.SENSOR_ID_TOTAL_CHARGED_ENERGY))
}

func TestAccountingActorReadErrorSkipsTick(t *testing.T) {
	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	var source *pylontech.TestSource
	f := newAccountingFixture(t, cfg, &memoryStore{}, func(s *pylontech.TestSource) port.FrameSource {
		s.FailWith(errors.New("no response"))
		source = s
		return s
	})
	defer f.as.Shutdown()

	assert.Eventually(func() bool { return source.Reads() == 1 }, 5*time.Second, 20*time.Millisecond)

	resp := getState(t, f)
	assert.Equal(domain.ChargeStatusIdle, resp.State.ChargeStatus)
	assert.True(resp.State.LastSampleTimestamp.IsZero())
	assert.Nil(resp.EstimatedChargeSeconds)
}

func TestAccountingActorControl(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	// no tick during the test
	cfg.Accounting.StartupDelaySeconds = 3600
	f := newAccountingFixture(t, cfg, &memoryStore{}, nil)
	defer f.as.Shutdown()

	resp := control(t, f, domain.SetChargeStateRequest{Status: domain.ChargeStatusCharging})
	require.False(resp.HasResponseError())
	_, err := uuid.Parse(resp.AuditId)
	assert.NoError(err)
	assert.Equal(domain.ChargeStatusCharging, resp.State.ChargeStatus)
	assert.Equal(cfg.Accounting.ChargingRateWatts, resp.State.ChargeRateWatts)

	state := getState(t, f)
	require.NotNil(state.EstimatedChargeSeconds)
	// empty pack, 4800 Wh at 1500 W
	assert.InDelta(4800.0/1500*3600, *state.EstimatedChargeSeconds, 0.001)

	resp = control(t, f, domain.SetChargeStateRequest{Status: "boiling"})
	assert.ErrorIs(resp.GetResponseError(), service.ErrValidation)
	assert.NotEmpty(resp.AuditId)

	resp = control(t, f, domain.SetBatteryCapacityRequest{Index: 5, Value: 1000})
	assert.ErrorIs(resp.GetResponseError(), service.ErrRange)

	resp = control(t, f, domain.SetBatteryToFullRequest{Index: service.AllBatteries})
	require.False(resp.HasResponseError())
	assert.Equal([]float64{2400, 2400}, resp.State.StoredEnergy)

	resp = control(t, f, domain.AdjustCountersRequest{DeltaCharged: 100, DeltaDischarged: 40})
	require.False(resp.HasResponseError())
	assert.Equal(100.0, resp.State.TotalChargedEnergy)
	assert.Equal(40.0, resp.State.TotalDischargedEnergy)

	resp = control(t, f, domain.ResetCountersRequest{})
	require.False(resp.HasResponseError())
	assert.Equal(0.0, resp.State.TotalChargedEnergy)
	assert.Equal(0.0, resp.State.TotalDischargedEnergy)

	// a command whose caller already gave up is not applied
	expired := domain.AdjustCountersRequest{DeltaCharged: 10}
	expired.Deadline = domain.Deadline{Until: time.Now().Add(-time.Second)}
	resp = control(t, f, expired)
	assert.ErrorIs(resp.GetResponseError(), service.ErrBusy)
	assert.Equal(0.0, getState(t, f).State.TotalChargedEnergy)
}

func TestAccountingActorDeferredWhileReading(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	gate := make(chan struct{})
	f := newAccountingFixture(t, cfg, &memoryStore{}, func(s *pylontech.TestSource) port.FrameSource {
		return &gatedSource{TestSource: s, gate: gate}
	})
	defer f.as.Shutdown()

	assert.Eventually(func() bool {
		res, err := f.as.Root.RequestFuture(f.pid, domain.ActorHealthRequest{}, time.Second).Result()
		return err == nil && res.(domain.ActorHealthResponse).State == "waitingFrame"
	}, 2*time.Second, 20*time.Millisecond)

	future := f.as.Root.RequestFuture(f.pid, domain.AdjustCountersRequest{DeltaCharged: 10}, 5*time.Second)
	time.Sleep(100 * time.Millisecond)
	close(gate)

	res, err := future.Result()
	require.NoError(err)
	resp := res.(domain.AccountingControlResponse)
	require.False(resp.HasResponseError())
	// the adjustment was applied after the tick
	assert.False(resp.State.LastSampleTimestamp.IsZero())
	assert.InDelta(10+800.1*30/3600, resp.State.TotalChargedEnergy, 0.001)
}

func TestAccountingActorRestoreAndPersist(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	persisted := domain.NewAccountingState(3, 2400)
	persisted.TotalChargedEnergy = 1000
	persisted.StoredEnergy = []float64{100, 200, 300}
	store := &memoryStore{state: &persisted}

	cfg := util.LoadTestConfig()
	cfg.Accounting.StartupDelaySeconds = 3600
	f := newAccountingFixture(t, cfg, store, nil)
	defer f.as.Shutdown()

	state := getState(t, f).State
	assert.Equal(1000.0, state.TotalChargedEnergy)
	// resized to the configured two batteries
	assert.Equal([]float64{100, 200}, state.StoredEnergy)

	control(t, f, domain.ResetCountersRequest{})

	res, err := f.as.Root.RequestFuture(f.pid, domain.PersistStateRequest{}, 5*time.Second).Result()
	require.NoError(err)
	assert.False(res.(domain.PersistStateResponse).HasResponseError())
	saved, saves := store.Saved()
	assert.Equal(1, saves)
	assert.Equal(0.0, saved.TotalChargedEnergy)

	require.NoError(f.as.Root.PoisonFuture(f.pid).Wait())
	_, saves = store.Saved()
	assert.Equal(2, saves)
}
