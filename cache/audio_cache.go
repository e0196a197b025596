package cache

import (
	"context"
	"errors"
	"time"

	"PIIReview/core/playback"
	"PIIReview/logger"
	"PIIReview/model"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const audioKeyPrefix = "piireview:redacted:"

// AudioCache 把下载过的脱敏音频缓存到 Redis，在批次内来回切换时不重复下载。
// Redis 出错只当作未命中，不会让下载失败。
//
// 同一引用的并发未命中共用一次下载。调用方放弃后下载仍会完成并写入缓存，
// 审阅者切回该文件时直接命中。
type AudioCache struct {
	client redis.Cmdable
	next   playback.Fetcher
	ttl    time.Duration
	group  singleflight.Group
}

var _ playback.Invalidator = (*AudioCache)(nil)

func NewAudioCache(client redis.Cmdable, next playback.Fetcher, ttl time.Duration) *AudioCache {
	return &AudioCache{client: client, next: next, ttl: ttl}
}

// AudioKey 生成缓存键
func AudioKey(ref string) string {
	return audioKeyPrefix + ref
}

func (c *AudioCache) FetchAudio(ctx context.Context, ref string) (*model.Artifact, error) {
	if a := c.get(ctx, ref); a != nil {
		return a, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(ref, func() (interface{}, error) {
		a, err := c.next.FetchAudio(detached, ref)
		if err != nil {
			return nil, err
		}
		c.set(detached, ref, a)
		return a, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Artifact), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *AudioCache) get(ctx context.Context, ref string) *model.Artifact {
	key := AudioKey(ref)
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Warn("读取音频缓存失败", logger.String("key", key), logger.ErrorField(err))
		}
		return nil
	}
	data, ok := fields["data"]
	if !ok || data == "" {
		return nil
	}

	logger.Debug("音频缓存命中", logger.String("key", key), logger.Int("dataSize", len(data)))
	return model.NewArtifact(fields["name"], fields["type"], []byte(data))
}

func (c *AudioCache) set(ctx context.Context, ref string, a *model.Artifact) {
	key := AudioKey(ref)
	if err := c.client.HSet(ctx, key, "name", a.Name(), "type", a.MediaType(), "data", a.Bytes()).Err(); err != nil {
		logger.Warn("写入音频缓存失败", logger.String("key", key), logger.ErrorField(err))
		return
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
			logger.Warn("设置音频缓存过期时间失败", logger.String("key", key), logger.ErrorField(err))
			return
		}
	}
	logger.Debug("音频缓存设置成功",
		logger.String("key", key),
		logger.Int("dataSize", a.Size()),
		logger.Duration("expiration", c.ttl))
}

// Invalidate 删除某个引用的缓存
func (c *AudioCache) Invalidate(ctx context.Context, ref string) error {
	return c.client.Del(ctx, AudioKey(ref)).Err()
}
