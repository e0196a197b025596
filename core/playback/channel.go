package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"PIIReview/core/ledger"
	"PIIReview/core/media"
	"PIIReview/logger"
	"PIIReview/metrics"
)

// Snapshot 通道的瞬时状态，供渲染使用
type Snapshot struct {
	Channel       string    `json:"channel"`
	State         State     `json:"state"`
	Source        string    `json:"source,omitempty"`
	Position      float64   `json:"position"`
	Duration      float64   `json:"duration"`
	DurationKnown bool      `json:"duration_known"`
	Ratio         float64   `json:"ratio"`
	Playing       bool      `json:"playing"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Channel 在自己的媒体后端上一次播放一个音源。
// 所有状态迁移由 mu 串行化；下载和元数据读取在锁外进行，gen 被新的 Load 或 Teardown
// 递增后其结果会被丢弃。
type Channel struct {
	name    string
	backend media.Backend
	ledger  *ledger.Ledger

	// loadMu 保证同一时刻只有一个 backend.Load 在执行，旧加载不会落在新加载之后
	loadMu sync.Mutex

	mu         sync.Mutex
	state      State
	source     string
	position   float64
	duration   float64
	handle     ledger.Handle
	err        *Error
	gen        uint64
	cancelLoad context.CancelFunc
	closed     bool

	unsubscribe func()
	listeners   map[int]func(Snapshot)
	nextID      int
}

// NewChannel 创建空通道，生成的句柄以通道名登记到账本 l
func NewChannel(name string, backend media.Backend, l *ledger.Ledger) *Channel {
	c := &Channel{
		name:      name,
		backend:   backend,
		ledger:    l,
		duration:  math.NaN(),
		listeners: make(map[int]func(Snapshot)),
	}
	c.unsubscribe = backend.Subscribe(media.Events{
		OnTimeUpdate: c.onTimeUpdate,
		OnEnded:      c.onEnded,
		OnError:      c.onError,
	})
	return c
}

func (c *Channel) Name() string { return c.name }

// ListenerOwner 通道监听订阅在账本中的持有者名
func ListenerOwner(channel string) string {
	return channel + "/listener"
}

// Load 替换当前音源，阻塞到下载和元数据读取完成，期间通道处于 Loading。
// 被新的 Load 或 Teardown 取代时返回 context.Canceled，不留下任何状态。
func (c *Channel) Load(ctx context.Context, src Source) error {
	return <-c.LoadAsync(ctx, src)
}

// LoadAsync 返回前通道已进入 Loading，加载在后台完成，结果从返回的 channel 送出
func (c *Channel) LoadAsync(ctx context.Context, src Source) <-chan error {
	done := make(chan error, 1)
	if !src.valid() {
		done <- ErrInvalidSource
		return done
	}

	loadCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		done <- ErrNotReady
		return done
	}
	c.resetLocked()
	gen := c.gen
	c.cancelLoad = cancel
	c.state = StateLoading
	c.source = src.Name()
	c.mu.Unlock()
	c.notify()

	go func() {
		defer cancel()
		done <- c.runLoad(loadCtx, gen, src)
	}()
	return done
}

func (c *Channel) runLoad(loadCtx context.Context, gen uint64, src Source) error {
	artifact := src.artifact
	if src.IsRemote() {
		start := time.Now()
		a, err := src.fetcher.FetchAudio(loadCtx, src.ref)
		metrics.Default().RedactedFetchTime.Observe(time.Since(start).Seconds())
		if err != nil {
			return c.failLoad(loadCtx, gen, KindFetchFailed, err)
		}
		artifact = a
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return context.Canceled
	}
	h := ledger.NewHandle(ledger.KindPlayable)
	if err := c.ledger.Register(h, c.name, c.backend.Unload); err != nil {
		c.mu.Unlock()
		return c.failLoad(loadCtx, gen, KindDecodeFailed, err)
	}
	c.handle = h
	c.mu.Unlock()

	d, err := c.backend.Load(loadCtx, artifact)
	if err != nil {
		if src.IsRemote() && loadCtx.Err() == nil {
			c.invalidate(loadCtx, src)
		}
		return c.failLoad(loadCtx, gen, KindDecodeFailed, err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		// 加载期间已被取代，丢弃后端刚载入的旧音源
		if err := c.backend.Unload(); err != nil {
			logger.Warn("卸载过期音源失败", logger.String("channel", c.name), logger.ErrorField(err))
		}
		return context.Canceled
	}
	c.cancelLoad = nil
	c.state = StateReady
	c.duration = d
	c.position = 0
	c.mu.Unlock()

	metrics.Default().ChannelLoads.WithLabelValues(c.name, "ok").Inc()
	logger.Info("播放通道已就绪",
		logger.String("channel", c.name),
		logger.String("source", src.Name()),
		logger.Float64("duration", d))
	c.notify()
	return nil
}

// invalidate 让缓存层丢弃无法解码的下载，下次加载重新下载
func (c *Channel) invalidate(ctx context.Context, src Source) {
	inv, ok := src.fetcher.(Invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, src.ref); err != nil {
		logger.Warn("清除脱敏音频缓存失败",
			logger.String("channel", c.name),
			logger.String("ref", src.ref),
			logger.ErrorField(err))
	}
}

// failLoad 除非加载已被取代或取消，否则把通道置为 Errored
func (c *Channel) failLoad(ctx context.Context, gen uint64, kind ErrorKind, cause error) error {
	m := metrics.Default()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		m.ChannelLoads.WithLabelValues(c.name, "canceled").Inc()
		return context.Canceled
	}
	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		// 调用方放弃了，回到 Empty
		c.resetLocked()
		c.mu.Unlock()
		m.ChannelLoads.WithLabelValues(c.name, "canceled").Inc()
		c.notify()
		return cause
	}

	c.releaseHandleLocked()
	c.cancelLoad = nil
	c.state = StateErrored
	c.duration = math.NaN()
	c.position = 0
	e := &Error{Channel: c.name, Kind: kind, Err: cause}
	c.err = e
	c.mu.Unlock()

	m.ChannelLoads.WithLabelValues(c.name, string(kind)).Inc()
	logger.Warn("播放通道加载失败",
		logger.String("channel", c.name),
		logger.String("kind", string(kind)),
		logger.ErrorField(cause))
	c.notify()
	return e
}

// Play 从 Ready、Paused 或 Ended 开始播放（Ended 从 0 重新开始）。
// 因播放失败进入 Errored 的通道保留音源，可以再次播放。
func (c *Channel) Play(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == StatePlaying:
		c.mu.Unlock()
		return nil
	case c.state == StateEnded:
		if err := c.backend.Seek(0); err != nil {
			return c.playFailedLocked(err)
		}
		c.position = 0
	case c.state.hasSource():
	case c.retryableLocked():
	default:
		c.mu.Unlock()
		return ErrNotReady
	}

	if err := c.backend.Play(ctx); err != nil {
		if ctx.Err() != nil {
			c.mu.Unlock()
			return ctx.Err()
		}
		return c.playFailedLocked(err)
	}
	c.state = StatePlaying
	c.err = nil
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Channel) retryableLocked() bool {
	return c.state == StateErrored && c.err != nil && c.err.Kind == KindPlaybackFailed && c.handle != ""
}

// playFailedLocked 记录播放失败并解锁
func (c *Channel) playFailedLocked(cause error) error {
	c.position = c.backend.Position()
	c.state = StateErrored
	e := &Error{Channel: c.name, Kind: KindPlaybackFailed, Err: cause}
	c.err = e
	c.mu.Unlock()

	metrics.Default().ChannelPlayFailure.WithLabelValues(c.name).Inc()
	logger.Warn("播放失败", logger.String("channel", c.name), logger.ErrorField(cause))
	c.notify()
	return e
}

// Pause 仅在 Playing 时生效
func (c *Channel) Pause() error {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return nil
	}
	if err := c.backend.Pause(); err != nil {
		return c.playFailedLocked(err)
	}
	c.position = c.backend.Position()
	c.state = StatePaused
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Channel) Toggle(ctx context.Context) error {
	c.mu.Lock()
	playing := c.state == StatePlaying
	c.mu.Unlock()
	if playing {
		return c.Pause()
	}
	return c.Play(ctx)
}

// Seek 跳转到时长的 fraction 处，fraction 限制在 [0,1]。
// Ended 状态下跳转后变为 Paused。
func (c *Channel) Seek(fraction float64) error {
	c.mu.Lock()
	if !c.state.hasSource() && !c.retryableLocked() {
		c.mu.Unlock()
		return ErrNotReady
	}
	if !finite(c.duration) || c.duration <= 0 {
		c.mu.Unlock()
		return nil
	}

	pos := clampFraction(fraction) * c.duration
	if err := c.backend.Seek(pos); err != nil {
		return c.playFailedLocked(err)
	}
	c.position = pos
	if c.state == StateEnded {
		c.state = StatePaused
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Restart 回到 0，原本在播放则继续播放
func (c *Channel) Restart(ctx context.Context) error {
	c.mu.Lock()
	wasPlaying := c.state == StatePlaying
	c.mu.Unlock()

	if err := c.Seek(0); err != nil {
		return err
	}
	if wasPlaying {
		return c.Play(ctx)
	}
	return nil
}

// Teardown 一步完成暂停、清空音源和释放句柄，之后通道为 Empty，可以重新加载
func (c *Channel) Teardown() {
	c.mu.Lock()
	wasEmpty := c.state == StateEmpty && c.handle == ""
	c.resetLocked()
	c.mu.Unlock()
	if !wasEmpty {
		c.notify()
	}
}

// Close 拆除通道并取消对后端事件的订阅
func (c *Channel) Close() {
	c.Teardown()

	c.mu.Lock()
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// resetLocked 取代进行中的加载并释放句柄，账本中的释放动作是 backend.Unload
func (c *Channel) resetLocked() {
	c.gen++
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
	c.releaseHandleLocked()
	c.state = StateEmpty
	c.source = ""
	c.position = 0
	c.duration = math.NaN()
	c.err = nil
}

func (c *Channel) releaseHandleLocked() {
	if c.handle == "" {
		return
	}
	h := c.handle
	c.handle = ""
	if err := c.ledger.Release(h); err != nil {
		logger.Warn("释放播放句柄失败", logger.String("channel", c.name), logger.ErrorField(err))
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle 当前音源的账本句柄，未持有时为空
func (c *Channel) Handle() ledger.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return nil
	}
	return c.err
}

func (c *Channel) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

// Duration 元数据加载前为 NaN
func (c *Channel) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

func (c *Channel) Ratio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Ratio(c.positionLocked(), c.duration)
}

func (c *Channel) positionLocked() float64 {
	if c.state == StatePlaying {
		return c.backend.Position()
	}
	return c.position
}

func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Channel) snapshotLocked() Snapshot {
	pos := c.positionLocked()
	s := Snapshot{
		Channel:  c.name,
		State:    c.state,
		Source:   c.source,
		Position: pos,
		Ratio:    Ratio(pos, c.duration),
		Playing:  c.state == StatePlaying,
	}
	if finite(c.duration) {
		s.Duration = c.duration
		s.DurationKnown = true
	}
	if c.err != nil {
		s.ErrorKind = c.err.Kind
		s.Error = c.err.Err.Error()
	}
	return s
}

// Subscribe 注册监听，每次状态迁移和进度更新后回调 fn。
// 订阅以 ListenerOwner(name) 登记在账本中，与通道自己的音源句柄分开。
func (c *Channel) Subscribe(fn func(Snapshot)) *ledger.Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return c.ledger.Subscribe(ListenerOwner(c.name), func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	})
}

func (c *Channel) notify() {
	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Channel) onTimeUpdate(position float64) {
	c.mu.Lock()
	if !c.state.hasSource() {
		c.mu.Unlock()
		return
	}
	c.position = position
	c.mu.Unlock()
	c.notify()
}

func (c *Channel) onEnded() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded
	c.position = c.duration
	c.mu.Unlock()

	logger.Debug("播放结束", logger.String("channel", c.name))
	c.notify()
}

func (c *Channel) onError(err error) {
	c.mu.Lock()
	if !c.state.hasSource() {
		c.mu.Unlock()
		return
	}
	_ = c.playFailedLocked(err)
}
