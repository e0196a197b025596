package server

import (
	"net/http"
	"sync"
	"time"

	"PIIReview/core/recording"
	"PIIReview/core/review"
	"PIIReview/logger"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Progress is one frame pushed on /ws/progress.
type Progress struct {
	Review    review.View        `json:"review"`
	Recording recording.Snapshot `json:"recording"`
}

// progressHub 把变更信号分发给 websocket 客户端。Notify 不会阻塞：每个客户端最多挂起
// 一个信号，被唤醒时推送当前状态，密集的进度更新会合并成一帧。
type progressHub struct {
	mu      sync.Mutex
	clients map[chan struct{}]struct{}
	closed  bool
}

func newProgressHub() *progressHub {
	return &progressHub{clients: make(map[chan struct{}]struct{})}
}

func (h *progressHub) add() (chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan struct{}, 1)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *progressHub) remove(ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *progressHub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// CloseAll 断开所有客户端
func (h *progressHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *progressHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *APIHandler) progress() Progress {
	return Progress{Review: h.workspace.View(), Recording: h.recorder.Snapshot()}
}

// ProgressStreamHandler pushes a Progress frame on connect and after every change.
func (h *APIHandler) ProgressStreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	signal, ok := h.hub.add()
	if !ok {
		return
	}
	defer h.hub.remove(signal)

	// 读循环只处理 pong 和关闭
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func() bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(h.progress()); err != nil {
			logger.Debug("websocket write", logger.ErrorField(err))
			return false
		}
		return true
	}

	if !write() {
		return
	}
	for {
		select {
		case _, open := <-signal:
			if !open {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if !write() {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
