package ledger

import "sync"

// Subscription 一次事件监听的所有权
// Close 在任何退出路径上调用都安全，取消动作恰好执行一次。
type Subscription struct {
	once   sync.Once
	cancel func()
	ledger *Ledger
	handle Handle
}

// NewSubscription 创建一个不经过账本的订阅
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Subscribe 创建一个登记在账本中的订阅，ReleaseAll 时会一并取消
func (l *Ledger) Subscribe(owner string, cancel func()) *Subscription {
	s := &Subscription{cancel: cancel, ledger: l, handle: NewHandle(KindSubscription)}
	// handle 由 uuid 生成，不会重复
	_ = l.Register(s.handle, owner, func() error {
		s.fire()
		return nil
	})
	return s
}

// Close 取消订阅
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	if s.ledger != nil {
		// 账本中的释放动作最终调用 fire
		_ = s.ledger.Release(s.handle)
	}
	s.fire()
}

func (s *Subscription) fire() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
