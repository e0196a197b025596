package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"PIIReview/config"
	"PIIReview/core/capture"
	"PIIReview/core/detection"
	"PIIReview/core/ledger"
	"PIIReview/core/playback"
	"PIIReview/core/recording"
	"PIIReview/core/review"
	"PIIReview/logger"
	"PIIReview/model"
	"PIIReview/repository"

	"github.com/gorilla/mux"
)

const (
	maxUploadBytes = 512 << 20
	stopTimeout    = 15 * time.Second
	healthTimeout  = 5 * time.Second
)

// Detector is the detection service as the API uses it.
type Detector interface {
	review.Detector
	Health(ctx context.Context) (*detection.Health, error)
}

// Archiver stores committed takes.
type Archiver interface {
	Save(ctx context.Context, take *model.Artifact) (string, error)
}

// APIHandler 处理所有API请求
type APIHandler struct {
	cfg       *config.Config
	workspace *review.Workspace
	recorder  *recording.Session
	detector  Detector
	archive   Archiver
	history   repository.ReviewRepository
	defaults  detection.Options
	hub       *progressHub

	subs    []*ledger.Subscription
	submits sync.WaitGroup

	mu           sync.Mutex
	cancelSubmit context.CancelFunc
	submitDone   chan struct{}
}

// Deps APIHandler 的依赖，Archive 和 History 可以为 nil
type Deps struct {
	Workspace *review.Workspace
	Recorder  *recording.Session
	Detector  Detector
	Archive   Archiver
	History   repository.ReviewRepository
	Defaults  detection.Options
	Hub       *progressHub
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(cfg *config.Config, d Deps) *APIHandler {
	hub := d.Hub
	if hub == nil {
		hub = newProgressHub()
	}
	h := &APIHandler{
		cfg:       cfg,
		workspace: d.Workspace,
		recorder:  d.Recorder,
		detector:  d.Detector,
		archive:   d.Archive,
		history:   d.History,
		defaults:  d.Defaults,
		hub:       hub,
	}

	// 通道状态变化推送到 /ws/progress
	notify := func(playback.Snapshot) { hub.Notify() }
	h.subs = append(h.subs,
		h.workspace.Original().Subscribe(notify),
		h.workspace.Redacted().Subscribe(notify))
	if ch := h.recorder.Audition(); ch != nil {
		h.subs = append(h.subs, ch.Subscribe(notify))
	}
	return h
}

// Close 取消进行中的提交，注销进度监听并等待提交 goroutine 退出
func (h *APIHandler) Close() {
	h.mu.Lock()
	if h.cancelSubmit != nil {
		h.cancelSubmit()
	}
	h.mu.Unlock()
	for _, s := range h.subs {
		s.Close()
	}
	h.submits.Wait()
	h.hub.CloseAll()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor 把业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, playback.ErrNotReady),
		errors.Is(err, recording.ErrNoTake),
		errors.Is(err, review.ErrSubmitRunning):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, recording.ErrNoAudio):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, review.ErrClosed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func (h *APIHandler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败", logger.ErrorField(err))
	}
	writeError(w, status, err.Error())
}

// HealthHandler reports the station and the detection service.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if h.detector != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		health, err := h.detector.Health(ctx)
		if err != nil {
			resp["status"] = "degraded"
			resp["detector_error"] = err.Error()
		} else {
			resp["detector"] = health
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadBatchHandler accepts a multipart batch (audio files plus model and capability
// fields), makes it the batch under review and starts detection in the background.
func (h *APIHandler) UploadBatchHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["audio"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no audio files")
		return
	}

	opts, err := detection.NewOptions(r.FormValue("model"), r.MultipartForm.Value["capability"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	files := make([]*model.Artifact, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to open "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read "+fh.Filename)
			return
		}
		mediaType := fh.Header.Get("Content-Type")
		if mediaType == "" || mediaType == "application/octet-stream" {
			mediaType = model.MediaTypeFromName(fh.Filename)
		}
		files = append(files, model.NewArtifact(fh.Filename, mediaType, data))
	}

	batchID, err := h.workspace.SetFiles(files)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.submitAsync(batchID, files, opts)
	h.hub.Notify()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id": batchID,
		"total":    len(files),
		"model":    opts.Model,
	})
}

// submitAsync 在请求之外执行检测，结果写入工作区，配置了历史存储时同时保存。
// 新批次会取消正在进行的提交并等待其结束后再提交。
func (h *APIHandler) submitAsync(batchID string, files []*model.Artifact, opts detection.Options) {
	if h.detector == nil {
		return
	}

	h.mu.Lock()
	if h.cancelSubmit != nil {
		h.cancelSubmit()
	}
	prev := h.submitDone
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DetectionTimeout)
	done := make(chan struct{})
	h.cancelSubmit, h.submitDone = cancel, done
	h.mu.Unlock()

	h.submits.Add(1)
	go func() {
		defer h.submits.Done()
		defer close(done)
		defer cancel()
		defer h.hub.Notify()

		if prev != nil {
			<-prev
		}
		if h.workspace.BatchID() != batchID || ctx.Err() != nil {
			return
		}

		results, err := h.workspace.Submit(ctx, h.detector, opts)
		if err != nil {
			logger.Warn("批次检测未完成", logger.String("batch", batchID), logger.ErrorField(err))
			return
		}
		if h.history == nil {
			return
		}
		rec := model.NewReviewBatch(batchID, string(opts.Model), opts.CapabilityList(), files, results)
		if err := h.history.SaveBatch(ctx, rec); err != nil {
			logger.Warn("保存审阅历史失败", logger.String("batch", batchID), logger.ErrorField(err))
		}
	}()
}

// ReviewHandler returns the active file.
func (h *APIHandler) ReviewHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workspace.View())
}

// NavigateHandler moves to the next or previous file.
func (h *APIHandler) NavigateHandler(w http.ResponseWriter, r *http.Request) {
	var moved bool
	switch mux.Vars(r)["direction"] {
	case "next":
		moved = h.workspace.Next()
	case "prev":
		moved = h.workspace.Prev()
	default:
		writeError(w, http.StatusNotFound, "unknown direction")
		return
	}
	if moved {
		h.hub.Notify()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"moved": moved,
		"view":  h.workspace.View(),
	})
}

func (h *APIHandler) channel(name string) (*playback.Channel, bool) {
	if name == "audition" {
		ch := h.recorder.Audition()
		return ch, ch != nil
	}
	return h.workspace.Channel(name)
}

type seekRequest struct {
	Fraction *float64 `json:"fraction"`
}

// ChannelHandler applies a transport action to one channel.
func (h *APIHandler) ChannelHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ch, ok := h.channel(vars["name"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}

	var err error
	switch vars["action"] {
	case "play":
		err = ch.Play(r.Context())
	case "pause":
		err = ch.Pause()
	case "toggle":
		err = ch.Toggle(r.Context())
	case "restart":
		err = ch.Restart(r.Context())
	case "seek":
		var req seekRequest
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil || req.Fraction == nil {
			writeError(w, http.StatusBadRequest, `body must be {"fraction": 0..1}`)
			return
		}
		err = ch.Seek(*req.Fraction)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch.Snapshot())
}

// HistoryHandler 列出最近的批次，带 ?batch= 时返回单个批次及其文件
func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "review history is not configured")
		return
	}

	if id := r.URL.Query().Get("batch"); id != "" {
		batch, err := h.history.GetByBatchID(r.Context(), id)
		if err != nil {
			h.fail(w, err)
			return
		}
		if batch == nil {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeJSON(w, http.StatusOK, batch)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := h.history.ListRecent(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}
