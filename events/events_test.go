package events

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestEventPublishingAndSubscribing checks that emitter-local and global handlers both see every published event.
func TestEventPublishingAndSubscribing(t *testing.T) {
	type proofStarted struct{ id string }
	type proofFinished struct{ id string }

	startedEmitter := EventEmitter[proofStarted]{}
	finishedEmitter := EventEmitter[proofFinished]{}

	var startedLocal, finishedLocal, startedGlobal, finishedGlobal int
	startedEmitter.Subscribe(func(event proofStarted) error {
		startedLocal++
		return nil
	})
	finishedEmitter.Subscribe(func(event proofFinished) error {
		finishedLocal++
		return nil
	})
	SubscribeAny(func(event proofStarted) error {
		startedGlobal++
		return nil
	})
	SubscribeAny(func(event proofFinished) error {
		finishedGlobal++
		return nil
	})

	for i := 0; i < 3; i++ {
		assert.NoError(t, startedEmitter.Publish(proofStarted{id: "A.test()"}))
	}
	for i := 0; i < 5; i++ {
		assert.NoError(t, finishedEmitter.Publish(proofFinished{id: "A.test()"}))
	}

	assert.EqualValues(t, 3, startedLocal)
	assert.EqualValues(t, 5, finishedLocal)
	assert.EqualValues(t, 3, startedGlobal)
	assert.EqualValues(t, 5, finishedGlobal)
}

// TestPublishStopsOnHandlerError checks that a failing handler short-circuits the rest and surfaces its error.
func TestPublishStopsOnHandlerError(t *testing.T) {
	type setupFailed struct{}

	emitter := EventEmitter[setupFailed]{}
	var after bool
	emitter.Subscribe(func(event setupFailed) error {
		return errors.New("handler failed")
	})
	emitter.Subscribe(func(event setupFailed) error {
		after = true
		return nil
	})

	err := emitter.Publish(setupFailed{})
	assert.ErrorContains(t, err, "handler failed")
	assert.False(t, after, "handlers after a failing one must not run")
}

// TestConcurrentPublish checks that many goroutines can publish to one emitter.
func TestConcurrentPublish(t *testing.T) {
	t.Parallel()
	type tick struct{}

	emitter := EventEmitter[tick]{}
	var count atomic.Int64
	emitter.Subscribe(func(event tick) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = emitter.Publish(tick{})
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 800, count.Load())
}
