package status

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	completes bool
	err       error
	done      chan struct{}
}

func newFakeToken(completes bool, err error) *fakeToken {
	t := &fakeToken{completes: completes, err: err, done: make(chan struct{})}
	if completes {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { return t.completes }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.completes }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func TestWaitTokenCompleted(t *testing.T) {
	err := waitToken(newFakeToken(true, nil), time.Second)
	require.NoError(t, err)
}

func TestWaitTokenBrokerError(t *testing.T) {
	cause := errors.New("not authorized")
	err := waitToken(newFakeToken(true, cause), time.Second)
	assert.ErrorIs(t, err, cause)
}

func TestWaitTokenTimesOutOnHungBroker(t *testing.T) {
	// A token that never completes must not block past the bound.
	start := time.Now()
	err := waitToken(newFakeToken(false, nil), 10*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
