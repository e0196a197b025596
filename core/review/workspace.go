// Package review 审阅工作区：当前批次，以及跟随当前文件切换的原始/脱敏两个播放通道。
package review

import (
	"context"
	"errors"
	"sync"

	"PIIReview/core/batch"
	"PIIReview/core/detection"
	"PIIReview/core/entity"
	"PIIReview/core/ledger"
	"PIIReview/core/media"
	"PIIReview/core/playback"
	"PIIReview/logger"
	"PIIReview/model"

	"github.com/google/uuid"
)

const (
	ChannelOriginal = "original"
	ChannelRedacted = "redacted"
)

var (
	ErrClosed        = errors.New("review: workspace closed")
	ErrBatchReplaced = errors.New("review: batch replaced while detection was running")
	ErrSubmitRunning = errors.New("review: detection already running")
)

// Detector 对一个批次执行 PII 检测，detection.Client 实现了该接口
type Detector interface {
	Detect(ctx context.Context, files []*model.Artifact, opts detection.Options) ([]model.DetectionResult, error)
}

// Workspace 把 Navigator 和原始/脱敏通道绑定在一起。
// 每次切换文件都会先取消上一个脱敏音频下载并拆除两个通道，再挂载新文件。
type Workspace struct {
	nav      *batch.Navigator
	original *playback.Channel
	redacted *playback.Channel
	ledger   *ledger.Ledger
	fetcher  playback.Fetcher

	// attachMu 串行化批次替换、文件切换和结果挂载
	attachMu sync.Mutex

	mu          sync.Mutex
	fetchCtx    context.Context
	cancelFetch context.CancelFunc
	batchID     string
	opts        detection.Options
	submitting  bool
	submitErr   error
	closed      bool
}

// New 创建工作区，fetcher 用于下载脱敏音频
func New(originalBackend, redactedBackend media.Backend, fetcher playback.Fetcher, l *ledger.Ledger) *Workspace {
	ctx, cancel := context.WithCancel(context.Background())
	return &Workspace{
		nav:         batch.NewNavigator(),
		original:    playback.NewChannel(ChannelOriginal, originalBackend, l),
		redacted:    playback.NewChannel(ChannelRedacted, redactedBackend, l),
		ledger:      l,
		fetcher:     fetcher,
		fetchCtx:    ctx,
		cancelFetch: cancel,
	}
}

func (w *Workspace) Original() *playback.Channel { return w.original }
func (w *Workspace) Redacted() *playback.Channel { return w.redacted }
func (w *Workspace) Navigator() *batch.Navigator { return w.nav }

// Channel 按名称查找通道
func (w *Workspace) Channel(name string) (*playback.Channel, bool) {
	switch name {
	case ChannelOriginal:
		return w.original, true
	case ChannelRedacted:
		return w.redacted, true
	}
	return nil, false
}

// SetFiles 替换整个批次并挂载第一个文件。批次ID与文件列表在 attachMu 内一起更新，
// 正在进行的 Submit 要么先挂载到旧批次，要么发现批次已被替换。
func (w *Workspace) SetFiles(files []*model.Artifact) (string, error) {
	var id string
	ok := w.attach(func() bool {
		w.mu.Lock()
		w.batchID = uuid.NewString()
		w.submitErr = nil
		w.opts = detection.Options{}
		id = w.batchID
		w.mu.Unlock()

		w.nav.SetFiles(files)
		return true
	})
	if !ok {
		return "", ErrClosed
	}
	logger.Info("已载入批次", logger.String("batch", id), logger.Int("files", len(files)))
	return id, nil
}

// AttachResults 保存检测结果，当前文件若有脱敏音频则开始加载
func (w *Workspace) AttachResults(results []model.DetectionResult) {
	w.attachMu.Lock()
	defer w.attachMu.Unlock()
	w.attachResultsLocked(results)
}

// attachResultsLocked 需持有 attachMu
func (w *Workspace) attachResultsLocked(results []model.DetectionResult) {
	w.nav.AttachResults(results)

	w.mu.Lock()
	ctx := w.fetchCtx
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	_, res := w.nav.Current()
	if !res.HasRedactedAudio() {
		return
	}
	// 已加载（或正在加载）同一个引用时不重复下载，引用变了则重新加载
	if snap := w.redacted.Snapshot(); snap.State != playback.StateEmpty && snap.Source == res.RedactedAudioURL {
		return
	}
	w.loadRedacted(ctx, res.RedactedAudioURL)
}

// Next 切到下一个文件，返回索引是否移动
func (w *Workspace) Next() bool {
	return w.attach(w.nav.Next)
}

// Prev 切到上一个文件
func (w *Workspace) Prev() bool {
	return w.attach(w.nav.Prev)
}

// attach 执行 move，当前文件变化时把两个通道切换到新文件
func (w *Workspace) attach(move func() bool) bool {
	w.attachMu.Lock()
	defer w.attachMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	if !move() {
		return false
	}

	// 先取消旧文件的下载并释放句柄
	w.mu.Lock()
	w.cancelFetch()
	ctx, cancel := context.WithCancel(context.Background())
	w.fetchCtx, w.cancelFetch = ctx, cancel
	w.mu.Unlock()

	w.original.Teardown()
	w.redacted.Teardown()

	file, res := w.nav.Current()
	if file == nil {
		return true
	}
	w.logLoad(w.original.LoadAsync(ctx, playback.LocalSource(file)), ChannelOriginal)
	if res.HasRedactedAudio() {
		w.loadRedacted(ctx, res.RedactedAudioURL)
	}

	logger.Debug("切换文件",
		logger.Int("index", w.nav.Index()),
		logger.String("file", file.Name()))
	return true
}

func (w *Workspace) loadRedacted(ctx context.Context, ref string) {
	if w.fetcher == nil {
		return
	}
	w.logLoad(w.redacted.LoadAsync(ctx, playback.RemoteSource(w.fetcher, ref)), ChannelRedacted)
}

func (w *Workspace) logLoad(done <-chan error, channel string) {
	go func() {
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("通道加载未完成", logger.String("channel", channel), logger.ErrorField(err))
		}
	}()
}

// Submit 把当前批次发给检测服务并挂载结果，期间批次被替换时丢弃结果
func (w *Workspace) Submit(ctx context.Context, det Detector, opts detection.Options) ([]model.DetectionResult, error) {
	w.attachMu.Lock()
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.attachMu.Unlock()
		return nil, ErrClosed
	}
	if w.submitting {
		w.mu.Unlock()
		w.attachMu.Unlock()
		return nil, ErrSubmitRunning
	}
	w.submitting = true
	w.submitErr = nil
	w.opts = opts
	id := w.batchID
	w.mu.Unlock()
	files := w.nav.Files()
	w.attachMu.Unlock()

	results, err := det.Detect(ctx, files, opts)

	// 从判断批次是否被替换到结果挂载完成都持有 attachMu
	w.attachMu.Lock()
	defer w.attachMu.Unlock()

	w.mu.Lock()
	w.submitting = false
	replaced := id != w.batchID
	if err != nil && !replaced {
		w.submitErr = err
	}
	w.mu.Unlock()

	if replaced {
		logger.Info("批次已被替换，丢弃检测结果", logger.String("batch", id))
		return nil, ErrBatchReplaced
	}
	if err != nil {
		logger.Error("检测请求失败", logger.String("batch", id), logger.ErrorField(err))
		return nil, err
	}

	w.attachResultsLocked(results)
	return results, nil
}

// BatchID 当前审阅批次的ID
func (w *Workspace) BatchID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batchID
}

// Options 最近一次提交使用的检测参数
func (w *Workspace) Options() detection.Options {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts
}

// Close 取消未完成的下载，拆除两个通道并释放账本中剩余的全部句柄
func (w *Workspace) Close() error {
	w.attachMu.Lock()
	defer w.attachMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.cancelFetch()
	w.mu.Unlock()

	w.original.Close()
	w.redacted.Close()
	return w.ledger.ReleaseAll()
}

// View 当前文件的审阅视图
type View struct {
	BatchID            string            `json:"batch_id"`
	Index              int               `json:"index"`
	Total              int               `json:"total"`
	Filename           string            `json:"filename,omitempty"`
	HasResult          bool              `json:"has_result"`
	Detected           bool              `json:"detected"`
	Transcript         string            `json:"transcript,omitempty"`
	RedactedTranscript string            `json:"redacted_transcript,omitempty"`
	Entities           []model.Entity    `json:"entities,omitempty"`
	Groups             []entity.Group    `json:"groups,omitempty"`
	Segments           []entity.Segment  `json:"segments,omitempty"`
	RedactedAudio      bool              `json:"redacted_audio"`
	Submitting         bool              `json:"submitting"`
	SubmitError        string            `json:"submit_error,omitempty"`
	Original           playback.Snapshot `json:"original"`
	Redacted           playback.Snapshot `json:"redacted"`
}

func (w *Workspace) View() View {
	w.mu.Lock()
	v := View{BatchID: w.batchID, Submitting: w.submitting}
	if w.submitErr != nil {
		v.SubmitError = w.submitErr.Error()
	}
	w.mu.Unlock()

	v.Index = w.nav.Index()
	v.Total = w.nav.Len()
	v.Detected = w.nav.HasResults()
	file, res := w.nav.Current()
	if file != nil {
		v.Filename = file.Name()
	}
	if res != nil {
		v.HasResult = true
		v.Transcript = res.Transcript
		v.Entities = res.Entities
		v.Groups = entity.GroupByType(res.Entities)
		v.Segments = entity.Highlight(res.Transcript, res.Entities)
		v.RedactedTranscript = res.RedactedTranscript
		if v.RedactedTranscript == "" && len(res.Entities) > 0 {
			v.RedactedTranscript = entity.Redact(res.Transcript, res.Entities)
		}
		v.RedactedAudio = res.HasRedactedAudio()
	}
	v.Original = w.original.Snapshot()
	v.Redacted = w.redacted.Snapshot()
	return v
}
