package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"PIIReview/logger"
	"PIIReview/metrics"

	"github.com/google/uuid"
)

// Kind 句柄类型
type Kind string

const (
	KindCaptureStream Kind = "capture"      // 麦克风采集流
	KindPlayable      Kind = "playable"     // 播放通道持有的临时可播放对象
	KindSubscription  Kind = "subscription" // 事件监听
)

// Handle 外部资源的不透明引用
type Handle string

// NewHandle 生成一个带类型前缀的唯一句柄
func NewHandle(kind Kind) Handle {
	return Handle(string(kind) + ":" + uuid.NewString())
}

// Kind 从句柄前缀解析类型
func (h Handle) Kind() Kind {
	if i := strings.IndexByte(string(h), ':'); i > 0 {
		return Kind(h[:i])
	}
	return ""
}

// ReleaseFunc 释放动作
type ReleaseFunc func() error

var (
	ErrEmptyHandle     = errors.New("ledger: empty handle")
	ErrNilRelease      = errors.New("ledger: nil release action")
	ErrDuplicateHandle = errors.New("ledger: handle already registered")
)

type entry struct {
	owner        string
	release      ReleaseFunc
	registeredAt time.Time
}

// Ledger 资源账本
// 记录会话期间创建的每个外部句柄及其释放动作，保证每个句柄恰好释放一次。
type Ledger struct {
	mu      sync.Mutex
	entries map[Handle]*entry
}

// New 创建空账本
func New() *Ledger {
	return &Ledger{entries: make(map[Handle]*entry)}
}

// Register 登记一个待释放的句柄
func (l *Ledger) Register(h Handle, owner string, release ReleaseFunc) error {
	if h == "" {
		return ErrEmptyHandle
	}
	if release == nil {
		return ErrNilRelease
	}

	l.mu.Lock()
	if _, exists := l.entries[h]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateHandle, h)
	}
	l.entries[h] = &entry{owner: owner, release: release, registeredAt: time.Now()}
	l.mu.Unlock()

	m := metrics.Default()
	m.HandlesRegistered.WithLabelValues(string(h.Kind())).Inc()
	m.HandlesOutstanding.Inc()

	logger.Debug("句柄已登记",
		logger.String("handle", string(h)),
		logger.String("owner", owner))
	return nil
}

// Release 执行并移除一个句柄的释放动作，重复调用为空操作
func (l *Ledger) Release(h Handle) error {
	l.mu.Lock()
	e, ok := l.entries[h]
	if ok {
		delete(l.entries, h)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}
	// 释放动作在锁外执行，释放动作可能回调其他组件
	return runRelease(h, e)
}

// ReleaseAll 释放全部未释放的句柄
// 单个释放失败（返回错误或 panic）不会阻止后续释放，所有错误合并返回。
func (l *Ledger) ReleaseAll() error {
	l.mu.Lock()
	pending := l.entries
	l.entries = make(map[Handle]*entry)
	l.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var errs []error
	for h, e := range pending {
		if err := runRelease(h, e); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info("账本已清空",
		logger.Int("released", len(pending)),
		logger.Int("failures", len(errs)))
	return errors.Join(errs...)
}

func runRelease(h Handle, e *entry) (err error) {
	m := metrics.Default()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ledger: release of %s panicked: %v", h, r)
		}
		m.HandlesOutstanding.Dec()
		m.HandlesReleased.WithLabelValues(string(h.Kind())).Inc()
		if err != nil {
			m.ReleaseFailures.Inc()
			logger.Warn("句柄释放失败",
				logger.String("handle", string(h)),
				logger.String("owner", e.owner),
				logger.ErrorField(err))
			return
		}
		logger.Debug("句柄已释放",
			logger.String("handle", string(h)),
			logger.String("owner", e.owner),
			logger.Duration("held", time.Since(e.registeredAt)))
	}()

	if err := e.release(); err != nil {
		return fmt.Errorf("ledger: release of %s: %w", h, err)
	}
	return nil
}

// Has 句柄是否仍未释放
func (l *Ledger) Has(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[h]
	return ok
}

// Outstanding 未释放句柄数
func (l *Ledger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// OutstandingFor 返回某个持有者名下未释放的句柄，按字典序排列
func (l *Ledger) OutstandingFor(owner string) []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Handle
	for h, e := range l.entries {
		if e.owner == owner {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
