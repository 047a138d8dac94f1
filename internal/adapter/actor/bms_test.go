package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"
	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/pylontech"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBMSActor(t *testing.T) (*actor.ActorSystem, *actor.PID, *pylontech.TestSource) {
	variant, err := bms.Lookup(pylontech.VariantAntra)
	require.NoError(t, err)
	source, err := pylontech.NewTestSource(variant)
	require.NoError(t, err)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewBMSActor(source, time.Second, logger) })
	pid := as.Root.Spawn(props)
	return as, pid, source
}

func TestBMSActorGetFrame(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	as, pid, source := newTestBMSActor(t)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.GetFrameRequest{}, 5*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.GetFrameResponse)
	require.True(ok)
	require.False(resp.HasResponseError())
	require.NotNil(resp.Frame)
	assert.Len(resp.Frame.Batteries, 2)
	assert.Equal(1, source.Reads())

	result, err = as.Root.RequestFuture(pid, domain.GetBMSInfoRequest{}, 5*time.Second).Result()
	require.NoError(err)
	info := result.(domain.GetBMSInfoResponse)
	assert.Equal(pylontech.VariantAntra, info.Variant)
	assert.Equal(2, info.Batteries)
	assert.Equal(16, info.Cells)
	assert.Equal("2.1", info.LayoutVersion)
	// served from the last frame
	assert.Equal(1, source.Reads())

	as.Root.Stop(pid)
}

func TestBMSActorInfoReadsFrame(t *testing.T) {

	assert := assert.New(t)

	as, pid, source := newTestBMSActor(t)
	defer as.Shutdown()

	result, err := as.Root.RequestFuture(pid, domain.GetBMSInfoRequest{}, 5*time.Second).Result()
	assert.NoError(err)
	info := result.(domain.GetBMSInfoResponse)
	assert.False(info.HasResponseError())
	assert.Equal(2, info.Batteries)
	assert.Equal(1, source.Reads())
}

func TestBMSActorReadError(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	as, pid, source := newTestBMSActor(t)
	defer as.Shutdown()

	readErr := errors.New("no response")
	source.FailWith(readErr)

	result, err := as.Root.RequestFuture(pid, domain.GetFrameRequest{}, 5*time.Second).Result()
	require.NoError(err)
	resp := result.(domain.GetFrameResponse)
	assert.True(resp.HasResponseError())
	assert.ErrorIs(resp.GetResponseError(), readErr)

	// the actor keeps serving after a failed read
	source.FailWith(nil)
	result, err = as.Root.RequestFuture(pid, domain.GetFrameRequest{}, 5*time.Second).Result()
	require.NoError(err)
	assert.False(result.(domain.GetFrameResponse).HasResponseError())

	health, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(err)
	assert.True(health.(domain.ActorHealthResponse).Healthy)
}
