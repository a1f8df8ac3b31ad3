package corevk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImagePromiseDonePollsWithoutBlocking(t *testing.T) {
	p := newImagePromise()
	assert.False(t, p.Done())

	p.fulfill(UploadResult{ID: uuid.New()})
	assert.True(t, p.Done())
	assert.True(t, p.Done(), "Done must stay true once latched")
}

func TestImagePromiseWaitReturnsFulfilledResult(t *testing.T) {
	p := newImagePromise()
	id := uuid.New()
	go p.fulfill(UploadResult{ID: id})

	r, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
}

func TestImagePromiseWaitRespectsContextCancellation(t *testing.T) {
	p := newImagePromise()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	assert.Error(t, err)
}

func TestPublishMonotonicNeverRegresses(t *testing.T) {
	u := &Uploader{}
	u.publishMonotonic(5)
	assert.EqualValues(t, 5, u.LastSubmittedSemaphoreValue())

	u.publishMonotonic(3)
	assert.EqualValues(t, 5, u.LastSubmittedSemaphoreValue(), "a smaller value must never overwrite a larger published value")

	u.publishMonotonic(9)
	assert.EqualValues(t, 9, u.LastSubmittedSemaphoreValue())
}

func TestPublishMonotonicConcurrentPublishesConverge(t *testing.T) {
	u := &Uploader{}
	var wg sync.WaitGroup
	for i := uint64(1); i <= 100; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			u.publishMonotonic(v)
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 100, u.LastSubmittedSemaphoreValue())
}
