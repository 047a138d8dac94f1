package actorutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackgroundTask(t *testing.T) {
	assert := assert.New(t)

	var got []int
	collect := func(v int) { got = append(got, v) }

	NewBackgroundTask(nil, func() (*int, error) {
		v := 7
		return &v, nil
	}).OnSuccess(collect).Run()

	NewBackgroundTask(nil, func() (*int, error) {
		return nil, errors.New("read failed")
	}).Recover(func(error) int { return -1 }).OnSuccess(collect).Run()

	// failed without recover, nothing is delivered
	NewBackgroundTask(nil, func() (*int, error) {
		return nil, errors.New("read failed")
	}).OnSuccess(collect).Run()

	assert.Equal([]int{7, -1}, got)
}

func TestBackgroundTaskErr(t *testing.T) {
	assert := assert.New(t)

	var failed bool
	NewBackgroundTaskErr(nil, func() error {
		return errors.New("save failed")
	}).Recover(func(error) any {
		failed = true
		return nil
	}).Run()
	assert.True(failed)

	var done bool
	NewBackgroundTaskErr(nil, func() error { return nil }).OnSuccess(func(any) { done = true }).Run()
	assert.True(done)
}
