package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesceSharesInFlightCall(t *testing.T) {
	c := New(nil, false, nil, 0)

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	fn := func() (string, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	outputs := make([]string, 8)

	wg.Add(1)
	go func() {
		defer wg.Done()
		out, _, err := c.Coalesce("llm:cache:m:a:b", fn)
		assert.NoError(t, err)
		outputs[0] = out
	}()
	<-entered

	// The leader is now parked inside fn; every follower started here joins
	// its flight instead of running fn again.
	for i := 1; i < len(outputs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, _, err := c.Coalesce("llm:cache:m:a:b", fn)
			assert.NoError(t, err)
			outputs[i] = out
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, out := range outputs {
		assert.Equal(t, "shared", out)
	}
}

func TestCoalesceDistinctKeysDoNotShare(t *testing.T) {
	c := New(nil, false, nil, 0)

	a, _, err := c.Coalesce("llm:cache:m:a:1", func() (string, error) { return "one", nil })
	require.NoError(t, err)
	b, _, err := c.Coalesce("llm:cache:m:a:2", func() (string, error) { return "two", nil })
	require.NoError(t, err)

	assert.Equal(t, "one", a)
	assert.Equal(t, "two", b)
}
