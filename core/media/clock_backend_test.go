package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PIIReview/core/audio"
	"PIIReview/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

type recorder struct {
	mu      sync.Mutex
	updates []float64
	ended   int
	errs    []error
}

func (r *recorder) events() Events {
	return Events{
		OnTimeUpdate: func(p float64) { r.mu.Lock(); r.updates = append(r.updates, p); r.mu.Unlock() },
		OnEnded:      func() { r.mu.Lock(); r.ended++; r.mu.Unlock() },
		OnError:      func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
	}
}

func newTestBackend(t *testing.T) (*ClockBackend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewClockBackend(audio.NewFFmpegProcessor("ffmpeg"), WithClock(clock.Now), WithInterval(0))
	return b, clock
}

func wavArtifact(seconds float64) *model.Artifact {
	return model.NewArtifact("clip.wav", "audio/wav", audio.Silence(seconds, 8000))
}

func TestClockBackendTransportBeforeLoad(t *testing.T) {
	b, _ := newTestBackend(t)
	assert.ErrorIs(t, b.Play(context.Background()), ErrNoSource)
	assert.ErrorIs(t, b.Seek(1), ErrNoSource)
	assert.NoError(t, b.Pause())
	assert.Zero(t, b.Position())
}

func TestClockBackendPlayAdvancesAndEnds(t *testing.T) {
	b, clock := newTestBackend(t)
	rec := &recorder{}
	cancel := b.Subscribe(rec.events())
	defer cancel()

	d, err := b.Load(context.Background(), wavArtifact(10))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, d, 0.001)

	require.NoError(t, b.Play(context.Background()))
	clock.Advance(4 * time.Second)
	assert.InDelta(t, 4.0, b.Position(), 0.001)

	b.poll()
	assert.Zero(t, rec.ended)

	clock.Advance(7 * time.Second)
	b.poll()
	assert.Equal(t, 1, rec.ended)
	assert.False(t, b.IsPlaying())
	assert.InDelta(t, 10.0, b.Position(), 0.001)

	// playing after the end starts over
	require.NoError(t, b.Play(context.Background()))
	assert.Zero(t, b.Position())
}

func TestClockBackendPauseFreezesPosition(t *testing.T) {
	b, clock := newTestBackend(t)
	_, err := b.Load(context.Background(), wavArtifact(10))
	require.NoError(t, err)

	require.NoError(t, b.Play(context.Background()))
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Pause())
	clock.Advance(5 * time.Second)
	assert.InDelta(t, 2.0, b.Position(), 0.001)
}

func TestClockBackendSeekClamps(t *testing.T) {
	b, _ := newTestBackend(t)
	rec := &recorder{}
	defer b.Subscribe(rec.events())()

	_, err := b.Load(context.Background(), wavArtifact(10))
	require.NoError(t, err)

	require.NoError(t, b.Seek(25))
	assert.InDelta(t, 10.0, b.Position(), 0.001)
	require.NoError(t, b.Seek(-3))
	assert.Zero(t, b.Position())
	// seeking reports nothing synchronously
	assert.Empty(t, rec.updates)
}

func TestClockBackendLoadFailure(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.Load(context.Background(), model.NewArtifact("x.wav", "audio/wav", []byte("RIFF\x00\x00\x00\x00WAVEjunk")))
	assert.True(t, errors.Is(err, audio.ErrUndecodable))
	assert.ErrorIs(t, b.Play(context.Background()), ErrNoSource)
}

func TestClockBackendCancelledLoadKeepsSource(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.Load(context.Background(), wavArtifact(5))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Load(ctx, wavArtifact(9))
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, b.Seek(100))
	assert.InDelta(t, 5.0, b.Position(), 1e-9)
}

func TestClockBackendUnloadStopsPlayback(t *testing.T) {
	b, clock := newTestBackend(t)
	_, err := b.Load(context.Background(), wavArtifact(5))
	require.NoError(t, err)
	require.NoError(t, b.Play(context.Background()))

	require.NoError(t, b.Unload())
	clock.Advance(time.Second)
	assert.False(t, b.IsPlaying())
	assert.Zero(t, b.Position())
	assert.ErrorIs(t, b.Play(context.Background()), ErrNoSource)
}

func TestClockBackendEmitErrorPauses(t *testing.T) {
	b, clock := newTestBackend(t)
	rec := &recorder{}
	defer b.Subscribe(rec.events())()

	_, err := b.Load(context.Background(), wavArtifact(5))
	require.NoError(t, err)
	require.NoError(t, b.Play(context.Background()))
	clock.Advance(time.Second)

	b.emitError(errors.New("device lost"))
	assert.False(t, b.IsPlaying())
	assert.InDelta(t, 1.0, b.Position(), 0.001)
	require.Len(t, rec.errs, 1)
}

func TestClockBackendUnsubscribe(t *testing.T) {
	b, clock := newTestBackend(t)
	rec := &recorder{}
	cancel := b.Subscribe(rec.events())
	_, err := b.Load(context.Background(), wavArtifact(5))
	require.NoError(t, err)
	require.NoError(t, b.Play(context.Background()))

	cancel()
	clock.Advance(time.Second)
	b.poll()
	assert.Empty(t, rec.updates)
}

func TestClockBackendTickerDeliversUpdates(t *testing.T) {
	b := NewClockBackend(audio.NewFFmpegProcessor("ffmpeg"), WithInterval(5*time.Millisecond))
	got := make(chan float64, 16)
	defer b.Subscribe(Events{OnTimeUpdate: func(p float64) {
		select {
		case got <- p:
		default:
		}
	}})()

	_, err := b.Load(context.Background(), wavArtifact(5))
	require.NoError(t, err)
	require.NoError(t, b.Play(context.Background()))
	defer b.Unload()

	select {
	case p := <-got:
		assert.GreaterOrEqual(t, p, 0.0)
	case <-time.After(2 * time.Second):
		t.Fatal("no time update from ticker")
	}
}
