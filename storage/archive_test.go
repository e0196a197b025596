package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"PIIReview/model"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string]minio.ObjectInfo
	data    map[string][]byte
	putErr  error
	listErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]minio.ObjectInfo{}, data: map[string][]byte{}}
}

func (m *memStore) PutObject(ctx context.Context, bucket, name string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.putErr != nil {
		return minio.UploadInfo{}, m.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = b
	m.objects[name] = minio.ObjectInfo{
		Key:          name,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		LastModified: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: int64(len(b))}, nil
}

func (m *memStore) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(m.objects)+1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		ch <- minio.ObjectInfo{Err: m.listErr}
	}
	for k, o := range m.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			ch <- o
		}
	}
	close(ch)
	return ch
}

func (m *memStore) RemoveObject(ctx context.Context, bucket, name string, opts minio.RemoveObjectOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	delete(m.data, name)
	return nil
}

func testArchive(store *memStore) *RecordingArchive {
	a := newRecordingArchive(store, "piireview")
	a.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	return a
}

func TestSaveUploadsTake(t *testing.T) {
	store := newMemStore()
	a := testArchive(store)
	take := model.NewArtifact("recording.webm", "audio/webm", []byte("opus-bytes"))

	name, err := a.Save(context.Background(), take)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "recordings/2026/10/18/"))
	assert.True(t, strings.HasSuffix(name, "-recording.webm"))
	assert.Equal(t, []byte("opus-bytes"), store.data[name])
	assert.Equal(t, "audio/webm", store.objects[name].ContentType)
}

func TestSaveRejectsEmptyTake(t *testing.T) {
	a := testArchive(newMemStore())
	_, err := a.Save(context.Background(), model.NewArtifact("recording.webm", "audio/webm", nil))
	assert.ErrorIs(t, err, ErrEmptyTake)
	_, err = a.Save(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyTake)
}

func TestSaveWrapsUploadError(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("access denied")
	a := testArchive(store)

	_, err := a.Save(context.Background(), model.NewArtifact("recording.ogg", "audio/ogg", []byte("x")))
	assert.ErrorIs(t, err, store.putErr)
}

func TestListAndDelete(t *testing.T) {
	store := newMemStore()
	a := testArchive(store)
	ctx := context.Background()

	first, err := a.Save(ctx, model.NewArtifact("recording.webm", "audio/webm", []byte("1234")))
	require.NoError(t, err)
	_, err = a.Save(ctx, model.NewArtifact("recording.ogg", "audio/ogg", []byte("56")))
	require.NoError(t, err)
	store.objects["other/file.txt"] = minio.ObjectInfo{Key: "other/file.txt", Size: 100}

	objects, stats, err := a.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, objects, 2)
	assert.EqualValues(t, 2, stats.TotalObjects)
	assert.EqualValues(t, 6, stats.TotalSize)

	require.NoError(t, a.Delete(ctx, first))
	objects, _, err = a.List(ctx, "2026/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestListSurfacesError(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("bucket gone")
	_, _, err := testArchive(store).List(context.Background(), "")
	assert.ErrorIs(t, err, store.listErr)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.0 KB", FormatSize(1024))
	assert.Equal(t, "1.5 MB", FormatSize(1536*1024))
}

func TestUsageByTypeInfersMissingType(t *testing.T) {
	usage := UsageByType([]ObjectInfo{
		{Key: "recordings/a.webm", Size: 10, ContentType: "audio/webm"},
		{Key: "recordings/b.wav", Size: 5},
		{Key: "recordings/c.webm", Size: 1},
	})
	assert.EqualValues(t, 11, usage["audio/webm"])
	assert.EqualValues(t, 5, usage["audio/wav"])
}

func TestBucketReport(t *testing.T) {
	objects := []ObjectInfo{{Key: "recordings/a.webm", Size: 2048, ContentType: "audio/webm"}}
	report := BucketReport("piireview", "recordings/", objects, &BucketStats{TotalObjects: 1, TotalSize: 2048})
	assert.Contains(t, report, "piireview")
	assert.Contains(t, report, "2.0 KB")
	assert.Contains(t, report, "recordings/a.webm")
}
