package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PIIReview/core/capture"
	"PIIReview/core/ledger"
	"PIIReview/core/playback"
	"PIIReview/logger"
	"PIIReview/metrics"
	"PIIReview/model"
)

// State 录音会话状态
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateCapturing, StateStopped} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown recording state %q", text)
}

const (
	// BaseName 录音文件名（不含扩展名）
	BaseName    = "recording"
	DefaultTick = 100 * time.Millisecond
	ledgerOwner = "recording"
)

var (
	ErrNoTake  = errors.New("recording: no finished take")
	ErrNoAudio = errors.New("recording: capture produced no audio")
)

type Option func(*Session)

// WithTick 设置录音时长的刷新间隔
func WithTick(d time.Duration) Option {
	return func(s *Session) { s.tick = d }
}

// WithClock 注入时间源，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithAudition 录音结束后把录音加载到 ch，提交前可以试听
func WithAudition(ch *playback.Channel) Option {
	return func(s *Session) { s.audition = ch }
}

// OnTick 录音期间大约每个 tick 回调一次已录时长
func OnTick(fn func(time.Duration)) Option {
	return func(s *Session) { s.onTick = fn }
}

// take 一次采集，从打开设备到数据刷新完毕
type take struct {
	stream  capture.Stream
	handle  ledger.Handle
	flushed chan struct{}
	data    []byte
}

// collect 读完整个流，关闭 flushed 即发布 data
func (t *take) collect() {
	var buf bytes.Buffer
	for chunk := range t.stream.Chunks() {
		buf.Write(chunk)
	}
	t.data = buf.Bytes()
	close(t.flushed)
}

// Session 单次麦克风录音：Idle -> Capturing -> Stopped（得到录音文件）
type Session struct {
	device   capture.Device
	ledger   *ledger.Ledger
	tick     time.Duration
	now      func() time.Time
	audition *playback.Channel
	onTick   func(time.Duration)

	mu       sync.Mutex
	state    State
	gen      uint64
	opening  bool
	stopping bool
	cur      *take
	started  time.Time
	elapsed  time.Duration
	artifact *model.Artifact
	stopTick chan struct{}
}

func NewSession(device capture.Device, l *ledger.Ledger, opts ...Option) *Session {
	s := &Session{
		device: device,
		ledger: l,
		tick:   DefaultTick,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 打开麦克风开始录音。录音中或设备打开中调用无效果；已有录音时会丢弃旧录音。
// 失败时会话保持 Idle，错误包装 capture.ErrPermissionDenied 或 capture.ErrDeviceUnavailable。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateCapturing || s.opening {
		s.mu.Unlock()
		return nil
	}
	dropped := s.state == StateStopped
	if dropped {
		s.clearTakeLocked()
	}
	s.opening = true
	gen := s.gen
	s.mu.Unlock()
	if dropped {
		s.teardownAudition()
	}

	m := metrics.Default()
	stream, err := s.device.Open(ctx)

	s.mu.Lock()
	s.opening = false
	if err != nil {
		s.mu.Unlock()
		if ctx.Err() != nil {
			return err
		}
		reason := "device_unavailable"
		if errors.Is(err, capture.ErrPermissionDenied) {
			reason = "permission_denied"
		}
		m.CaptureFailures.WithLabelValues(reason).Inc()
		logger.Warn("麦克风打开失败", logger.String("reason", reason), logger.ErrorField(err))
		return err
	}
	if gen != s.gen {
		// 打开设备期间被 Reset
		s.mu.Unlock()
		_ = stream.Close()
		return context.Canceled
	}

	t := &take{stream: stream, handle: ledger.NewHandle(ledger.KindCaptureStream), flushed: make(chan struct{})}
	if err := s.ledger.Register(t.handle, ledgerOwner, stream.Close); err != nil {
		s.mu.Unlock()
		_ = stream.Close()
		return err
	}
	go t.collect()

	s.cur = t
	s.state = StateCapturing
	s.started = s.now()
	s.elapsed = 0
	s.startTickLocked()
	s.mu.Unlock()

	m.RecordingsStarted.Inc()
	logger.Info("开始录音", logger.String("handle", string(t.handle)))
	return nil
}

// Stop 结束录音：等采集端刷新完所有缓冲数据后拼接录音并释放采集流。
// 非 Capturing 状态（包括重复 Stop）调用无效果。
//
// 刷新完成前 ctx 结束时仍会释放采集流，丢弃不完整的录音并回到 Idle。
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCapturing || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	gen := s.gen
	t := s.cur
	elapsed := s.now().Sub(s.started)
	s.mu.Unlock()

	if err := t.stream.Stop(); err != nil {
		logger.Warn("发送停止信号失败", logger.ErrorField(err))
	}

	select {
	case <-t.flushed:
	case <-ctx.Done():
		s.mu.Lock()
		if gen == s.gen {
			s.abortLocked()
		}
		s.mu.Unlock()
		logger.Warn("等待录音数据刷新超时，已丢弃", logger.ErrorField(ctx.Err()))
		return ctx.Err()
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return context.Canceled
	}
	s.stopTickLocked()
	s.stopping = false
	s.cur = nil
	if err := s.ledger.Release(t.handle); err != nil {
		logger.Warn("释放采集流失败", logger.ErrorField(err))
	}

	if len(t.data) == 0 {
		s.state = StateIdle
		s.elapsed = 0
		s.mu.Unlock()
		if err := t.stream.Err(); err != nil {
			return err
		}
		return ErrNoAudio
	}

	mediaType := t.stream.MediaType()
	a := model.NewArtifact(BaseName+model.ExtForMediaType(mediaType), mediaType, t.data)
	s.artifact = a
	s.elapsed = elapsed
	s.state = StateStopped
	audition := s.audition
	s.mu.Unlock()

	m := metrics.Default()
	m.RecordingsFinished.Inc()
	m.TakeDuration.Observe(elapsed.Seconds())
	if err := t.stream.Err(); err != nil {
		logger.Warn("采集过程中出现错误，保留已录制部分", logger.ErrorField(err))
	}
	logger.Info("录音结束",
		logger.String("name", a.Name()),
		logger.Int("bytes", a.Size()),
		logger.Duration("elapsed", elapsed))

	if audition != nil {
		if err := audition.Load(ctx, playback.LocalSource(a)); err != nil {
			logger.Warn("试听加载失败", logger.ErrorField(err))
		}
	}
	return nil
}

// Discard 丢弃录音（或未完成的采集），回到 Idle
func (s *Session) Discard() {
	s.mu.Lock()
	s.abortLocked()
	s.clearTakeLocked()
	s.mu.Unlock()
	s.teardownAudition()
	logger.Debug("录音已丢弃")
}

// Reset 拆除会话：停止进行中的采集并释放采集流，释放试听句柄，回到 Idle
func (s *Session) Reset() {
	s.mu.Lock()
	if s.cur != nil {
		_ = s.cur.stream.Stop()
	}
	s.abortLocked()
	s.clearTakeLocked()
	s.mu.Unlock()
	s.teardownAudition()
}

// Commit 把录音交给调用方，会话回到 Idle
func (s *Session) Commit() (*model.Artifact, error) {
	s.mu.Lock()
	if s.state != StateStopped || s.artifact == nil {
		s.mu.Unlock()
		return nil, ErrNoTake
	}
	a := s.artifact
	s.clearTakeLocked()
	s.mu.Unlock()

	s.teardownAudition()
	logger.Info("录音已提交", logger.String("name", a.Name()), logger.Int("bytes", a.Size()))
	return a, nil
}

// abortLocked 作废进行中的打开、采集或刷新，并释放采集流
func (s *Session) abortLocked() {
	s.gen++
	s.stopTickLocked()
	if s.cur != nil {
		if err := s.ledger.Release(s.cur.handle); err != nil {
			logger.Warn("释放采集流失败", logger.ErrorField(err))
		}
		s.cur = nil
	}
	s.stopping = false
	if s.state == StateCapturing {
		s.state = StateIdle
		s.elapsed = 0
	}
}

func (s *Session) clearTakeLocked() {
	s.artifact = nil
	s.elapsed = 0
	s.state = StateIdle
}

// teardownAudition 不能持有 s.mu 调用，通道监听者可能会读取会话
func (s *Session) teardownAudition() {
	if s.audition != nil {
		s.audition.Teardown()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed 录音中为实时时长，停止后为最终时长
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	if s.state == StateCapturing {
		return s.now().Sub(s.started)
	}
	return s.elapsed
}

func (s *Session) Artifact() *model.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

func (s *Session) Audition() *playback.Channel {
	return s.audition
}

// Snapshot API 返回的会话状态
type Snapshot struct {
	State    State              `json:"state"`
	Elapsed  float64            `json:"elapsed"`
	Take     string             `json:"take,omitempty"`
	TakeSize int                `json:"take_size,omitempty"`
	Audition *playback.Snapshot `json:"audition,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{State: s.state, Elapsed: s.elapsedLocked().Seconds()}
	if s.artifact != nil {
		snap.Take = s.artifact.Name()
		snap.TakeSize = s.artifact.Size()
	}
	audition := s.audition
	s.mu.Unlock()

	if audition != nil {
		a := audition.Snapshot()
		snap.Audition = &a
	}
	return snap
}

func (s *Session) startTickLocked() {
	if s.tick <= 0 || s.onTick == nil {
		return
	}
	stop := make(chan struct{})
	s.stopTick = stop
	go func(interval time.Duration) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.state != StateCapturing {
					s.mu.Unlock()
					return
				}
				elapsed := s.elapsedLocked()
				s.mu.Unlock()
				s.onTick(elapsed)
			}
		}
	}(s.tick)
}

func (s *Session) stopTickLocked() {
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}
