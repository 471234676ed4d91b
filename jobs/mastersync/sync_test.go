package mastersync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSource) Reload(context.Context) (int, error) {
	f.calls.Add(1)
	return 3, f.err
}

type fakeRoster struct {
	calls atomic.Int32
	added int
}

func (f *fakeRoster) SyncFromMaster(context.Context) (int, error) {
	f.calls.Add(1)
	return f.added, nil
}

func TestOnce(t *testing.T) {
	before := testutil.ToFloat64(runs.WithLabelValues("ok"))
	src, roster := &fakeSource{}, &fakeRoster{added: 2}
	n, err := New(src, roster, 0, nil).Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(runs.WithLabelValues("ok")))
}

func TestOnceReloadErrorSkipsSync(t *testing.T) {
	src, roster := &fakeSource{err: errors.New("unreachable")}, &fakeRoster{}
	_, err := New(src, roster, 0, nil).Once(context.Background())
	assert.Error(t, err)
	assert.Zero(t, roster.calls.Load())
}

func TestOnceWithoutSource(t *testing.T) {
	roster := &fakeRoster{added: 1}
	n, err := New(nil, roster, 0, nil).Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunTicks(t *testing.T) {
	roster := &fakeRoster{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(nil, roster, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return roster.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestRunDisabled(t *testing.T) {
	roster := &fakeRoster{}
	New(nil, roster, 0, nil).Run(context.Background())
	assert.Zero(t, roster.calls.Load())
}
