package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitabu/swapcycle/internal/model"
)

// blockingSource stalls inside the listing load until released, so a test
// can hold a detection run open.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) ActiveSwapListings(ctx context.Context) ([]model.SwapListing, error) {
	b.entered <- struct{}{}
	<-b.release
	return nil, nil
}

func newTestRunner(src ListingSource) *JobRunner {
	d, _, _, _ := newTestDetector(src)
	f := newLifecycleFixture()
	return NewJobRunner(d, f.lifecycle, time.Hour, time.Hour, 5, 10)
}

func TestTriggerDetection_ConcurrentRunRejected(t *testing.T) {
	src := &blockingSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	runner := newTestRunner(src)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := runner.TriggerDetection(ctx)
		first <- err
	}()

	<-src.entered

	// A second trigger while the first is mid-flight is refused, not queued.
	_, err := runner.TriggerDetection(ctx)
	assert.ErrorIs(t, err, ErrDetectionRunning)

	close(src.release)
	require.NoError(t, <-first)

	// Once the first run finishes the gate reopens.
	reopened := make(chan struct{})
	src.release = reopened
	go func() { <-src.entered; close(reopened) }()
	_, err = runner.TriggerDetection(ctx)
	require.NoError(t, err)
}

func TestJobRunner_StartStop(t *testing.T) {
	runner := newTestRunner(&fakeListingSource{})
	runner.Start(context.Background())

	done := make(chan struct{})
	go func() {
		runner.Stop()
		runner.Stop() // repeat stop is a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
