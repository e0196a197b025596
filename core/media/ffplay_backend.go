package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"PIIReview/core/audio"
	"PIIReview/logger"
	"PIIReview/model"
)

// FFplayBackend 给 ClockBackend 加上声音输出：播放头仍以时钟为准，播放和跳转时在时钟
// 位置（重新）启动 ffplay 进程。
type FFplayBackend struct {
	*ClockBackend
	ffplayPath string

	mu   sync.Mutex
	file string
	proc *ffplayProc
}

type ffplayProc struct {
	cmd    *exec.Cmd
	killed bool
}

func NewFFplayBackend(ffplayPath string, prober audio.Prober, opts ...ClockOption) *FFplayBackend {
	return &FFplayBackend{
		ClockBackend: NewClockBackend(prober, opts...),
		ffplayPath:   ffplayPath,
	}
}

func (b *FFplayBackend) Load(ctx context.Context, a *model.Artifact) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.killLocked()
	b.removeFileLocked()
	b.mu.Unlock()

	d, err := b.ClockBackend.Load(ctx, a)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp("", "piireview-play-*"+a.Ext())
	if err != nil {
		return 0, fmt.Errorf("create playback file: %w", err)
	}
	if _, err := tmp.Write(a.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write playback file: %w", err)
	}
	tmp.Close()

	b.mu.Lock()
	b.removeFileLocked()
	b.file = tmp.Name()
	b.mu.Unlock()
	return d, nil
}

func (b *FFplayBackend) Play(ctx context.Context) error {
	if err := b.ClockBackend.Play(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.spawnLocked(b.ClockBackend.Position()); err != nil {
		_ = b.ClockBackend.Pause()
		return err
	}
	return nil
}

func (b *FFplayBackend) Pause() error {
	b.mu.Lock()
	b.killLocked()
	b.mu.Unlock()
	return b.ClockBackend.Pause()
}

func (b *FFplayBackend) Seek(position float64) error {
	if err := b.ClockBackend.Seek(position); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.proc == nil || !b.ClockBackend.IsPlaying() {
		return nil
	}
	b.killLocked()
	return b.spawnLocked(b.ClockBackend.Position())
}

func (b *FFplayBackend) Unload() error {
	b.mu.Lock()
	b.killLocked()
	b.removeFileLocked()
	b.mu.Unlock()
	return b.ClockBackend.Unload()
}

func (b *FFplayBackend) spawnLocked(offset float64) error {
	if b.file == "" {
		return ErrNoSource
	}

	args := []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		b.file,
	}
	cmd := exec.Command(b.ffplayPath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}

	proc := &ffplayProc{cmd: cmd}
	b.proc = proc
	go b.wait(proc)
	return nil
}

// wait 回收进程，非主动终止的退出作为播放错误上报
func (b *FFplayBackend) wait(proc *ffplayProc) {
	err := proc.cmd.Wait()

	b.mu.Lock()
	killed := proc.killed
	if b.proc == proc {
		b.proc = nil
	}
	b.mu.Unlock()

	if killed || err == nil {
		return
	}
	logger.Warn("ffplay 异常退出", logger.ErrorField(err))
	b.ClockBackend.emitError(fmt.Errorf("ffplay exited: %w", err))
}

func (b *FFplayBackend) killLocked() {
	if b.proc == nil {
		return
	}
	b.proc.killed = true
	if b.proc.cmd.Process != nil {
		_ = b.proc.cmd.Process.Kill()
	}
	b.proc = nil
}

func (b *FFplayBackend) removeFileLocked() {
	if b.file == "" {
		return
	}
	if err := os.Remove(b.file); err != nil && !os.IsNotExist(err) {
		logger.Warn("删除播放临时文件失败", logger.String("file", b.file), logger.ErrorField(err))
	}
	b.file = ""
}
