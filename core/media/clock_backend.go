package media

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"PIIReview/core/audio"
	"PIIReview/model"
)

// ClockBackend 无输出的后端：播放头按单调时钟前进，按固定间隔发出进度事件，
// 行为与浏览器的 audio 元素一致。
type ClockBackend struct {
	prober   audio.Prober
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	loaded   bool
	duration float64
	base     float64 // position at anchor
	anchor   time.Time
	playing  bool
	stopTick chan struct{}
	loadGen  uint64
	subs     map[int]Events
	nextSub  int
}

type ClockOption func(*ClockBackend)

// WithClock 注入时间源，测试用
func WithClock(now func() time.Time) ClockOption {
	return func(b *ClockBackend) { b.now = now }
}

// WithInterval 进度事件间隔，为 0 时不启动后台 ticker，只能通过 poll 更新
func WithInterval(d time.Duration) ClockOption {
	return func(b *ClockBackend) { b.interval = d }
}

func NewClockBackend(prober audio.Prober, opts ...ClockOption) *ClockBackend {
	b := &ClockBackend{
		prober:   prober,
		interval: 250 * time.Millisecond,
		now:      time.Now,
		subs:     make(map[int]Events),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *ClockBackend) Load(ctx context.Context, a *model.Artifact) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.resetLocked()
	gen := b.loadGen
	b.mu.Unlock()

	d, err := b.prober.Duration(ctx, a)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, fmt.Errorf("%w: invalid duration %v", audio.ErrUndecodable, d)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.loadGen {
		return 0, context.Canceled
	}
	b.loaded = true
	b.duration = d
	return d, nil
}

func (b *ClockBackend) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return ErrNoSource
	}
	if b.playing {
		return nil
	}
	if b.base >= b.duration {
		b.base = 0
	}
	b.anchor = b.now()
	b.playing = true
	b.startTickLocked()
	return nil
}

func (b *ClockBackend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.playing {
		return nil
	}
	b.base = b.positionLocked()
	b.playing = false
	b.stopTickLocked()
	return nil
}

func (b *ClockBackend) Seek(position float64) error {
	b.mu.Lock()
	if !b.loaded {
		b.mu.Unlock()
		return ErrNoSource
	}
	b.base = math.Max(0, math.Min(position, b.duration))
	b.anchor = b.now()
	b.mu.Unlock()
	return nil
}

func (b *ClockBackend) Position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionLocked()
}

func (b *ClockBackend) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

func (b *ClockBackend) Unload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	return nil
}

func (b *ClockBackend) Subscribe(ev Events) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ev
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// poll 推进一个 tick：上报位置并检测自然结束
func (b *ClockBackend) poll() {
	b.mu.Lock()
	if !b.playing {
		b.mu.Unlock()
		return
	}
	pos := b.positionLocked()
	ended := pos >= b.duration
	if ended {
		b.playing = false
		b.base = b.duration
		b.stopTickLocked()
	}
	subs := b.subscribersLocked()
	b.mu.Unlock()

	for _, ev := range subs {
		if ev.OnTimeUpdate != nil {
			ev.OnTimeUpdate(pos)
		}
		if ended && ev.OnEnded != nil {
			ev.OnEnded()
		}
	}
}

// emitError 停止播放头并上报播放失败
func (b *ClockBackend) emitError(err error) {
	b.mu.Lock()
	if b.playing {
		b.base = b.positionLocked()
		b.playing = false
		b.stopTickLocked()
	}
	subs := b.subscribersLocked()
	b.mu.Unlock()

	for _, ev := range subs {
		if ev.OnError != nil {
			ev.OnError(err)
		}
	}
}

func (b *ClockBackend) positionLocked() float64 {
	if !b.playing {
		return b.base
	}
	pos := b.base + b.now().Sub(b.anchor).Seconds()
	if pos > b.duration {
		pos = b.duration
	}
	return pos
}

func (b *ClockBackend) resetLocked() {
	b.stopTickLocked()
	b.loadGen++
	b.loaded = false
	b.playing = false
	b.base = 0
	b.duration = 0
}

func (b *ClockBackend) startTickLocked() {
	if b.interval <= 0 {
		return
	}
	stop := make(chan struct{})
	b.stopTick = stop
	go func(interval time.Duration) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.poll()
			}
		}
	}(b.interval)
}

func (b *ClockBackend) stopTickLocked() {
	if b.stopTick != nil {
		close(b.stopTick)
		b.stopTick = nil
	}
}

func (b *ClockBackend) subscribersLocked() []Events {
	out := make([]Events, 0, len(b.subs))
	for _, ev := range b.subs {
		out = append(out, ev)
	}
	return out
}
