package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"PIIReview/model"

	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType"`
	ETag         string    `json:"etag"`
}

type lister interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// listObjects 列出前缀下的所有对象并统计
func listObjects(ctx context.Context, store lister, bucket, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	objectCh := store.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}

		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}

		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
			ETag:         object.ETag,
		})
	}
	return objects, stats, nil
}

// ListBucketObjects 列出存储桶中的对象
func ListBucketObjects(ctx context.Context, client *minio.Client, bucket, prefix string) ([]ObjectInfo, *BucketStats, error) {
	if client == nil {
		return nil, nil, fmt.Errorf("MinIO 客户端未初始化")
	}
	return listObjects(ctx, client, bucket, prefix)
}

// BucketReport 按存储桶状态输出的文本报告
func BucketReport(bucket, prefix string, objects []ObjectInfo, stats *BucketStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "存储桶状态报告: %s\n", bucket)
	fmt.Fprintf(&b, "前缀过滤: %s\n", prefix)
	fmt.Fprintf(&b, "总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(&b, "总存储大小: %s\n", FormatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(&b, "最后更新时间: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
	}

	usage := UsageByType(objects)
	types := make([]string, 0, len(usage))
	for t := range usage {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "  %s: %s\n", t, FormatSize(usage[t]))
	}

	b.WriteString("文件列表:\n")
	for _, obj := range objects {
		fmt.Fprintf(&b, "  ├─ %s (%s, %s)\n", obj.Key, FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// UsageByType 按文件类型统计大小
func UsageByType(objects []ObjectInfo) map[string]int64 {
	usage := make(map[string]int64)
	for _, obj := range objects {
		contentType := obj.ContentType
		if contentType == "" {
			// 如果没有 ContentType，尝试从文件名推断
			contentType = model.MediaTypeFromName(path.Base(obj.Key))
		}
		usage[contentType] += obj.Size
	}
	return usage
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
