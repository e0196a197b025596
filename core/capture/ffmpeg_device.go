package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"PIIReview/logger"
)

const (
	readBufSize   = 32 * 1024
	chunkBuffer   = 64
	stopKillAfter = 5 * time.Second
)

// FFmpegDevice 用 ffmpeg 进程采集麦克风，把流式容器写到 stdout
type FFmpegDevice struct {
	FFmpegPath  string
	InputFormat string // avfoundation, pulse, alsa, dshow
	InputDevice string
	Container   string // webm or ogg
	SampleRate  int
	// OpenTimeout 进程启动后等待首批数据的最长时间
	OpenTimeout time.Duration
}

func NewFFmpegDevice(ffmpegPath, inputFormat, inputDevice, container string) *FFmpegDevice {
	return &FFmpegDevice{
		FFmpegPath:  ffmpegPath,
		InputFormat: inputFormat,
		InputDevice: inputDevice,
		Container:   container,
		SampleRate:  48000,
		OpenTimeout: 10 * time.Second,
	}
}

func (d *FFmpegDevice) MediaType() string {
	if d.Container == "ogg" {
		return "audio/ogg"
	}
	return "audio/webm"
}

func (d *FFmpegDevice) args() []string {
	container := d.Container
	if container != "ogg" {
		container = "webm"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.InputFormat,
		"-i", d.InputDevice,
		"-ac", "1",
		"-ar", fmt.Sprint(d.SampleRate),
		"-c:a", "libopus",
		"-flush_packets", "1",
		"-f", container,
		"pipe:1",
	}
}

func (d *FFmpegDevice) Open(ctx context.Context) (Stream, error) {
	cmd := exec.Command(d.FFmpegPath, d.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout pipe: %w", err)
	}
	s := &ffmpegStream{
		cmd:       cmd,
		mediaType: d.MediaType(),
		chunks:    make(chan []byte, chunkBuffer),
		ready:     make(chan struct{}),
		exited:    make(chan struct{}),
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}
	logger.Debug("ffmpeg 采集进程已启动",
		logger.Int("pid", cmd.Process.Pid),
		logger.String("format", d.InputFormat),
		logger.String("device", d.InputDevice))

	go s.pump(stdout)

	timeout := d.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return s, nil
	case <-s.exited:
		// 读空，让 pump 能结束
		for range s.chunks {
		}
		return nil, classify(s.stderr.String(), s.waitErr)
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	case <-timer.C:
		_ = s.Close()
		return nil, fmt.Errorf("%w: no audio within %s", ErrDeviceUnavailable, timeout)
	}
}

// classify 根据 ffmpeg 的 stderr 判断采集错误类型
func classify(stderr string, waitErr error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	for _, hint := range []string{"permission denied", "not authorized", "not permitted", "access denied", "tcc"} {
		if strings.Contains(lower, hint) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
	}
	if msg == "" && waitErr != nil {
		msg = waitErr.Error()
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
}

type ffmpegStream struct {
	cmd       *exec.Cmd
	mediaType string
	stderr    syncBuffer

	chunks chan []byte
	ready  chan struct{}
	exited chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once

	mu       sync.Mutex
	stopping bool
	waitErr  error
}

// pump 把 stdout 拷贝为数据块，进程退出后关闭 chunks
func (s *ffmpegStream) pump(stdout io.Reader) {
	var readyOnce sync.Once
	buf := make([]byte, readBufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			readyOnce.Do(func() { close(s.ready) })
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			break
		}
	}

	waitErr := s.cmd.Wait()
	s.mu.Lock()
	if s.stopping {
		// 被中断时 ffmpeg 以非零码退出，属于正常结束
		waitErr = nil
	}
	s.waitErr = waitErr
	s.mu.Unlock()

	close(s.exited)
	close(s.chunks)
}

func (s *ffmpegStream) Chunks() <-chan []byte { return s.chunks }

func (s *ffmpegStream) MediaType() string { return s.mediaType }

// Stop 向 ffmpeg 发送中断信号让它写完容器，超时未退出则强制结束
func (s *ffmpegStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()

		if sigErr := s.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			// windows 不支持向子进程发送 SIGINT
			err = s.cmd.Process.Kill()
		}
		time.AfterFunc(stopKillAfter, func() {
			select {
			case <-s.exited:
			default:
				logger.Warn("ffmpeg 未在限定时间内退出，强制结束", logger.Int("pid", s.cmd.Process.Pid))
				_ = s.cmd.Process.Kill()
			}
		})
	})
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()

		select {
		case <-s.exited:
		default:
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}

func (s *ffmpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr == nil {
		return nil
	}
	return classify(s.stderr.String(), s.waitErr)
}

// syncBuffer 由 exec 的拷贝 goroutine 写入，Open 读取
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
