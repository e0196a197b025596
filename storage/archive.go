package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"PIIReview/logger"
	"PIIReview/model"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// RecordingPrefix 录音对象的前缀
const RecordingPrefix = "recordings/"

var ErrEmptyTake = errors.New("storage: empty take")

// objectStore 归档用到的 *minio.Client 方法
type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// RecordingArchive 把提交的录音存到存储桶，每个录音一个对象
type RecordingArchive struct {
	store  objectStore
	bucket string
	now    func() time.Time
}

func NewRecordingArchive(client *minio.Client, bucket string) *RecordingArchive {
	return newRecordingArchive(client, bucket)
}

func newRecordingArchive(store objectStore, bucket string) *RecordingArchive {
	return &RecordingArchive{store: store, bucket: bucket, now: time.Now}
}

// ObjectName 生成 recordings/2006/01/02/<id>-<name>
func (a *RecordingArchive) ObjectName(take *model.Artifact) string {
	day := a.now().UTC().Format("2006/01/02")
	return RecordingPrefix + path.Join(day, uuid.NewString()+"-"+take.Name())
}

// Save 上传录音并返回对象名
func (a *RecordingArchive) Save(ctx context.Context, take *model.Artifact) (string, error) {
	if take == nil || take.Size() == 0 {
		return "", ErrEmptyTake
	}
	name := a.ObjectName(take)
	info, err := a.store.PutObject(ctx, a.bucket, name, take.Reader(), int64(take.Size()), minio.PutObjectOptions{
		ContentType: take.MediaType(),
	})
	if err != nil {
		return "", fmt.Errorf("上传录音失败: %w", err)
	}
	logger.Info("录音已归档",
		logger.String("bucket", a.bucket),
		logger.String("object", name),
		logger.Int64("size", info.Size))
	return name, nil
}

// List 列出 prefix 下的录音
func (a *RecordingArchive) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	if !strings.HasPrefix(prefix, RecordingPrefix) {
		prefix = RecordingPrefix + prefix
	}
	return listObjects(ctx, a.store, a.bucket, prefix)
}

// Delete 删除一个录音
func (a *RecordingArchive) Delete(ctx context.Context, objectName string) error {
	if err := a.store.RemoveObject(ctx, a.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除录音失败: %w", err)
	}
	return nil
}
