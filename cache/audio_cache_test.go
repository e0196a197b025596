package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"PIIReview/model"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls int
	err   error
}

func (f *countingFetcher) FetchAudio(ctx context.Context, ref string) (*model.Artifact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return model.NewArtifact("redacted_1.wav", "audio/wav", []byte("RIFF")), nil
}

const ref = "/api/download/redacted_1.wav"

func TestAudioCacheMissFetchesAndStores(t *testing.T) {
	client, mock := redismock.NewClientMock()
	next := &countingFetcher{}
	c := NewAudioCache(client, next, 30*time.Minute)
	key := AudioKey(ref)

	mock.ExpectHGetAll(key).SetVal(map[string]string{})
	mock.ExpectHSet(key, "name", "redacted_1.wav", "type", "audio/wav", "data", []byte("RIFF")).SetVal(3)
	mock.ExpectExpire(key, 30*time.Minute).SetVal(true)

	a, err := c.FetchAudio(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(a.Bytes()))
	assert.Equal(t, 1, next.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudioCacheHitSkipsFetch(t *testing.T) {
	client, mock := redismock.NewClientMock()
	next := &countingFetcher{}
	c := NewAudioCache(client, next, time.Minute)

	mock.ExpectHGetAll(AudioKey(ref)).SetVal(map[string]string{
		"name": "redacted_1.wav",
		"type": "audio/wav",
		"data": "cached",
	})

	a, err := c.FetchAudio(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(a.Bytes()))
	assert.Equal(t, "audio/wav", a.MediaType())
	assert.Zero(t, next.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudioCacheRedisErrorFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	next := &countingFetcher{}
	c := NewAudioCache(client, next, 0)
	key := AudioKey(ref)

	mock.ExpectHGetAll(key).SetErr(errors.New("connection refused"))
	mock.ExpectHSet(key, "name", "redacted_1.wav", "type", "audio/wav", "data", []byte("RIFF")).SetErr(errors.New("connection refused"))

	a, err := c.FetchAudio(context.Background(), ref)
	require.NoError(t, err)
	assert.NotNil(t, a)
	assert.Equal(t, 1, next.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudioCacheFetchErrorNotCached(t *testing.T) {
	client, mock := redismock.NewClientMock()
	next := &countingFetcher{err: errors.New("404")}
	c := NewAudioCache(client, next, time.Minute)

	mock.ExpectHGetAll(AudioKey(ref)).SetVal(map[string]string{})

	_, err := c.FetchAudio(context.Background(), ref)
	assert.EqualError(t, err, "404")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewAudioCache(client, &countingFetcher{}, time.Minute)

	mock.ExpectDel(AudioKey(ref)).SetVal(1)
	require.NoError(t, c.Invalidate(context.Background(), ref))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSmokeCheck(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSet("piireview:test_key", "Redis connection successful!", 5*time.Minute).SetVal("OK")
	mock.ExpectGet("piireview:test_key").SetVal("Redis connection successful!")
	mock.ExpectDel("piireview:test_key").SetVal(1)

	require.NoError(t, TestRedis(context.Background(), client))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type gatedFetcher struct {
	started chan struct{}
	gate    chan struct{}
}

func (f *gatedFetcher) FetchAudio(ctx context.Context, ref string) (*model.Artifact, error) {
	close(f.started)
	<-f.gate
	return model.NewArtifact("redacted_1.wav", "audio/wav", []byte("RIFF")), nil
}

func TestAbandonedFetchStillFillsCache(t *testing.T) {
	client, mock := redismock.NewClientMock()
	next := &gatedFetcher{started: make(chan struct{}), gate: make(chan struct{})}
	c := NewAudioCache(client, next, time.Minute)
	key := AudioKey(ref)

	mock.ExpectHGetAll(key).SetVal(map[string]string{})
	mock.ExpectHSet(key, "name", "redacted_1.wav", "type", "audio/wav", "data", []byte("RIFF")).SetVal(3)
	mock.ExpectExpire(key, time.Minute).SetVal(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.FetchAudio(ctx, ref)
		done <- err
	}()

	<-next.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(next.gate)
	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
}
