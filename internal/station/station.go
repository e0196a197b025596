// Package station 根据配置组装审阅工作站：检测客户端、脱敏音频缓存、审阅工作区、录音会话，
// 以及可选的归档和历史存储。HTTP 服务和终端命令共用。
package station

import (
	"errors"
	"time"

	"PIIReview/cache"
	"PIIReview/config"
	"PIIReview/core/audio"
	"PIIReview/core/capture"
	"PIIReview/core/detection"
	"PIIReview/core/ledger"
	"PIIReview/core/media"
	"PIIReview/core/playback"
	"PIIReview/core/recording"
	"PIIReview/core/review"
	"PIIReview/db"
	"PIIReview/logger"
	"PIIReview/repository"
	"PIIReview/storage"
)

// ChannelAudition 提交前试听录音的通道
const ChannelAudition = "audition"

type options struct {
	headless bool
	onTick   func(time.Duration)
	device   capture.Device
}

type Option func(*options)

// Headless 只使用时钟后端，不输出声音
func Headless() Option {
	return func(o *options) { o.headless = true }
}

// WithTickHook 录音期间回调已录时长
func WithTickHook(fn func(time.Duration)) Option {
	return func(o *options) { o.onTick = fn }
}

// WithDevice 替换 ffmpeg 麦克风设备
func WithDevice(d capture.Device) Option {
	return func(o *options) { o.device = d }
}

type Station struct {
	Config    *config.Config
	Ledger    *ledger.Ledger
	Detector  *detection.Client
	Workspace *review.Workspace
	Audition  *playback.Channel
	Recorder  *recording.Session
	// 未启用或连接失败时 Archive 和 History 为 nil
	Archive *storage.RecordingArchive
	History repository.ReviewRepository

	closers []func() error
}

func New(cfg *config.Config, opts ...Option) *Station {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Station{
		Config:   cfg,
		Ledger:   ledger.New(),
		Detector: detection.NewClient(cfg.DetectionAPIURL, cfg.DetectionTimeout),
	}

	prober := audio.NewFFmpegProcessor(cfg.FFmpegPath)
	newBackend := func() media.Backend {
		if o.headless {
			return media.NewClockBackend(prober, media.WithInterval(cfg.TimeUpdateTick))
		}
		return media.NewFFplayBackend(cfg.FFplayPath, prober, media.WithInterval(cfg.TimeUpdateTick))
	}

	var fetcher playback.Fetcher = s.Detector
	if cfg.RedisEnabled {
		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Warn("Redis 不可用，跳过脱敏音频缓存", logger.ErrorField(err))
		} else {
			fetcher = cache.NewAudioCache(cache.RedisClient, s.Detector, cfg.RedactedCacheTTL)
			s.closers = append(s.closers, cache.CloseRedis)
			logger.Info("脱敏音频缓存已启用", logger.Duration("ttl", cfg.RedactedCacheTTL))
		}
	}

	if cfg.MinioEnabled {
		client, err := storage.InitMinio(cfg)
		if err != nil {
			logger.Warn("MinIO 不可用，录音不会归档", logger.ErrorField(err))
		} else {
			s.Archive = storage.NewRecordingArchive(client, cfg.MinioBucket)
		}
	}

	if cfg.DBEnabled {
		if err := db.ConnectGormDB(cfg); err != nil {
			logger.Warn("数据库不可用，审阅历史不会保存", logger.ErrorField(err))
		} else {
			s.History = repository.NewGormReviewRepository(db.GormDB)
			s.closers = append(s.closers, db.CloseGormDB)
		}
	}

	s.Workspace = review.New(newBackend(), newBackend(), fetcher, s.Ledger)
	s.Audition = playback.NewChannel(ChannelAudition, newBackend(), s.Ledger)

	device := o.device
	if device == nil {
		d := capture.NewFFmpegDevice(cfg.FFmpegPath, cfg.CaptureFormat, cfg.CaptureDevice, cfg.CaptureContainer)
		d.OpenTimeout = cfg.CaptureTimeout
		device = d
	}
	recOpts := []recording.Option{
		recording.WithTick(cfg.ElapsedTick),
		recording.WithAudition(s.Audition),
	}
	if o.onTick != nil {
		recOpts = append(recOpts, recording.OnTick(o.onTick))
	}
	s.Recorder = recording.NewSession(device, s.Ledger, recOpts...)
	return s
}

// DefaultOptions 配置中的检测参数，配置无效时回退到默认值
func (s *Station) DefaultOptions() detection.Options {
	opts, err := detection.NewOptions(s.Config.DefaultModel, s.Config.DefaultCapabilities)
	if err != nil {
		logger.Warn("检测参数配置无效，使用默认值", logger.ErrorField(err))
		opts, _ = detection.NewOptions("", nil)
	}
	return opts
}

// Close 停止录音，释放所有媒体句柄并关闭存储
func (s *Station) Close() error {
	s.Recorder.Reset()
	s.Audition.Close()
	errs := []error{s.Workspace.Close()}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
