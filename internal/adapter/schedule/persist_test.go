package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPersistScheduler(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var calls atomic.Int32
	s, err := NewPersistScheduler("* * * * * *", func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("store down")
		}
		return nil
	}, zap.NewNop())
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// a failed run does not stop the schedule
	assert.Eventually(func() bool { return calls.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestPersistSchedulerInvalidCron(t *testing.T) {
	_, err := NewPersistScheduler("every minute", func(context.Context) error { return nil }, zap.NewNop())
	assert.Error(t, err)
}
