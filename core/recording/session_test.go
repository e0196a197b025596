package recording

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"PIIReview/core/capture"
	"PIIReview/core/ledger"
	"PIIReview/core/media"
	"PIIReview/core/playback"
	"PIIReview/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	chunks    chan []byte
	final     []byte
	holdFlush chan struct{}

	mu       sync.Mutex
	stops    int
	closes   int
	doneOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte, 16)}
}

func (f *fakeStream) Chunks() <-chan []byte { return f.chunks }
func (f *fakeStream) MediaType() string     { return "audio/webm" }
func (f *fakeStream) Err() error            { return nil }

// Stop delivers the final chunk after the stop signal, like a recorder flushing.
func (f *fakeStream) Stop() error {
	f.mu.Lock()
	f.stops++
	hold := f.holdFlush
	f.mu.Unlock()

	go func() {
		if hold != nil {
			<-hold
		}
		f.finish(f.final)
	}()
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.finish(nil)
	return nil
}

func (f *fakeStream) finish(last []byte) {
	f.doneOnce.Do(func() {
		if len(last) > 0 {
			f.chunks <- last
		}
		close(f.chunks)
	})
}

func (f *fakeStream) counts() (stops, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops, f.closes
}

type fakeDevice struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
	opens  int
}

func (d *fakeDevice) Open(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type fixedProber float64

func (p fixedProber) Duration(ctx context.Context, a *model.Artifact) (float64, error) {
	return float64(p), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStartStopProducesTake(t *testing.T) {
	stream := newFakeStream()
	stream.final = []byte("-tail")
	l := ledger.New()
	s := NewSession(&fakeDevice{stream: stream}, l)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateCapturing, s.State())
	assert.Equal(t, 1, l.Outstanding())

	stream.chunks <- []byte("head")
	stream.chunks <- []byte("-body")
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, StateStopped, s.State())
	a := s.Artifact()
	require.NotNil(t, a)
	assert.Equal(t, "recording.webm", a.Name())
	assert.Equal(t, "audio/webm", a.MediaType())
	assert.Equal(t, "head-body-tail", string(a.Bytes()))
	assert.Zero(t, l.Outstanding())

	stops, closes := stream.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, closes)
}

func TestStopWaitsForFlushSignal(t *testing.T) {
	stream := newFakeStream()
	stream.final = []byte("late")
	stream.holdFlush = make(chan struct{})
	s := NewSession(&fakeDevice{stream: stream}, ledger.New())
	require.NoError(t, s.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Stop(context.Background()) }()

	select {
	case <-done:
		t.Fatal("stop returned before the capture flushed")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateCapturing, s.State())

	close(stream.holdFlush)
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, "late", string(s.Artifact().Bytes()))
}

func TestDoubleStopIsNoop(t *testing.T) {
	stream := newFakeStream()
	stream.final = []byte("x")
	l := ledger.New()
	s := NewSession(&fakeDevice{stream: stream}, l)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	first := s.Artifact()
	require.NoError(t, s.Stop(context.Background()))

	assert.Same(t, first, s.Artifact())
	assert.Equal(t, StateStopped, s.State())
	stops, closes := stream.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, closes)
	assert.Zero(t, l.Outstanding())
}

func TestStopOutsideCapturingIsNoop(t *testing.T) {
	s := NewSession(&fakeDevice{stream: newFakeStream()}, ledger.New())
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateIdle, s.State())
}

func TestStartWhileCapturingIsNoop(t *testing.T) {
	dev := &fakeDevice{stream: newFakeStream()}
	s := NewSession(dev, ledger.New())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, dev.opens)
}

func TestStartFailureLeavesIdle(t *testing.T) {
	for _, sentinel := range []error{capture.ErrPermissionDenied, capture.ErrDeviceUnavailable} {
		l := ledger.New()
		dev := &fakeDevice{err: fmt.Errorf("%w: refused", sentinel)}
		s := NewSession(dev, l)

		err := s.Start(context.Background())
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, StateIdle, s.State())
		assert.Zero(t, l.Outstanding())
	}
}

func TestStopContextExpiryReleasesStream(t *testing.T) {
	stream := newFakeStream()
	stream.holdFlush = make(chan struct{})
	l := ledger.New()
	s := NewSession(&fakeDevice{stream: stream}, l)
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Artifact())
	assert.Zero(t, l.Outstanding())

	_, closes := stream.counts()
	assert.Equal(t, 1, closes)
	close(stream.holdFlush)
}

func TestStopWithoutAudio(t *testing.T) {
	s := NewSession(&fakeDevice{stream: newFakeStream()}, ledger.New())
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNoAudio)
	assert.Equal(t, StateIdle, s.State())
}

func TestCommitAndDiscard(t *testing.T) {
	stream := newFakeStream()
	stream.final = []byte("take-one")
	dev := &fakeDevice{stream: stream}
	s := NewSession(dev, ledger.New())

	_, err := s.Commit()
	assert.ErrorIs(t, err, ErrNoTake)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	a, err := s.Commit()
	require.NoError(t, err)
	assert.Equal(t, "take-one", string(a.Bytes()))
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Artifact())

	second := newFakeStream()
	second.final = []byte("take-two")
	dev.mu.Lock()
	dev.stream = second
	dev.mu.Unlock()

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	s.Discard()
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Artifact())
	assert.Zero(t, s.Elapsed())
}

func TestResetWhileCapturing(t *testing.T) {
	stream := newFakeStream()
	l := ledger.New()
	s := NewSession(&fakeDevice{stream: stream}, l)
	require.NoError(t, s.Start(context.Background()))

	s.Reset()
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, l.Outstanding())
	stops, closes := stream.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, closes)

	// the stream is gone; stop has nothing to do
	require.NoError(t, s.Stop(context.Background()))
}

func TestElapsedFollowsClock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	stream := newFakeStream()
	stream.final = []byte("x")
	s := NewSession(&fakeDevice{stream: stream}, ledger.New(), WithClock(clock.Now))

	require.NoError(t, s.Start(context.Background()))
	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, s.Elapsed())

	require.NoError(t, s.Stop(context.Background()))
	clock.Advance(time.Hour)
	assert.Equal(t, 1500*time.Millisecond, s.Elapsed())
	assert.InDelta(t, 1.5, s.Snapshot().Elapsed, 1e-9)
}

func TestTickerReportsElapsed(t *testing.T) {
	ticks := make(chan time.Duration, 64)
	stream := newFakeStream()
	stream.final = []byte("x")
	s := NewSession(&fakeDevice{stream: stream}, ledger.New(),
		WithTick(5*time.Millisecond),
		OnTick(func(d time.Duration) {
			select {
			case ticks <- d:
			default:
			}
		}))

	require.NoError(t, s.Start(context.Background()))
	select {
	case d := <-ticks:
		assert.GreaterOrEqual(t, d, time.Duration(0))
	case <-time.After(2 * time.Second):
		t.Fatal("no elapsed tick")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestAuditionChannelFollowsTake(t *testing.T) {
	l := ledger.New()
	audition := playback.NewChannel("audition", media.NewClockBackend(fixedProber(3), media.WithInterval(0)), l)
	stream := newFakeStream()
	stream.final = []byte("take")
	s := NewSession(&fakeDevice{stream: stream}, l, WithAudition(audition))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, playback.StateReady, audition.State())
	assert.InDelta(t, 3.0, audition.Duration(), 1e-9)
	assert.Len(t, l.OutstandingFor("audition"), 1)

	snap := s.Snapshot()
	require.NotNil(t, snap.Audition)
	assert.Equal(t, "recording.webm", snap.Take)

	s.Discard()
	assert.Equal(t, playback.StateEmpty, audition.State())
	assert.Zero(t, l.Outstanding())
}
