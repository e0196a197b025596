package playback

import (
	"errors"
	"fmt"
)

// State 播放通道的生命周期状态
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
	StateEnded
	StateErrored
)

var stateNames = [...]string{"empty", "loading", "ready", "playing", "paused", "ended", "errored"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown playback state %q", text)
}

// hasSource 该状态下是否持有已加载的音源
func (s State) hasSource() bool {
	switch s {
	case StateReady, StatePlaying, StatePaused, StateEnded:
		return true
	}
	return false
}

// ErrorKind 通道失败类型
type ErrorKind string

const (
	KindFetchFailed    ErrorKind = "fetch_failed"
	KindDecodeFailed   ErrorKind = "decode_failed"
	KindPlaybackFailed ErrorKind = "playback_failed"
)

var (
	ErrFetchFailed    = errors.New("playback: fetch failed")
	ErrDecodeFailed   = errors.New("playback: decode failed")
	ErrPlaybackFailed = errors.New("playback: playback failed")

	// ErrNotReady 加载完成前的播放控制调用
	ErrNotReady = errors.New("playback: channel not ready")

	ErrInvalidSource = errors.New("playback: source has neither artifact nor fetcher")
)

// Error 通道处于 Errored 时携带的错误，errors.Is 同时匹配类型哨兵和底层原因
type Error struct {
	Channel string
	Kind    ErrorKind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s channel %s: %v", e.Channel, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindFetchFailed:
		return ErrFetchFailed
	case KindDecodeFailed:
		return ErrDecodeFailed
	default:
		return ErrPlaybackFailed
	}
}
