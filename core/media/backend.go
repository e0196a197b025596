package media

import (
	"context"
	"errors"

	"PIIReview/model"
)

// ErrNoSource 成功 Load 之前调用播放控制时返回
var ErrNoSource = errors.New("media: no source loaded")

// Events 后端播放过程中发出的事件。
// 回调在后端自己的 goroutine 中执行，不会在播放控制调用内部触发，调用方可以持锁调用
// Play、Pause、Seek 或 Unload。
type Events struct {
	OnTimeUpdate func(position float64)
	OnEnded      func()
	OnError      func(err error)
}

// Backend 播放通道背后的媒体子系统：读取元数据、维护播放头并上报进度
type Backend interface {
	// Load 替换当前音源，阻塞到元数据可用；ctx 已取消时不改动当前音源
	Load(ctx context.Context, a *model.Artifact) (duration float64, err error)
	Play(ctx context.Context) error
	Pause() error
	// Seek 跳转到绝对位置（秒）
	Seek(position float64) error
	Position() float64
	// Unload 停止播放并丢弃音源
	Unload() error
	Subscribe(ev Events) (cancel func())
}
