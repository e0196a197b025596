// Package capture 打开麦克风采集流。
//
// Stream 输出一个流式容器的编码数据块，按顺序拼接即得到可播放的文件。只有采集端把缓冲
// 数据全部刷新后才会关闭数据块 channel，录音方在 Stop 之后以此作为完成信号。
package capture

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied 系统或用户拒绝了麦克风权限
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDeviceUnavailable 没有可用的输入设备
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")
)

// Device 麦克风设备
type Device interface {
	// Open 阻塞到设备开始输出数据或打开失败
	Open(ctx context.Context) (Stream, error)
}

// Stream 一次进行中的采集
type Stream interface {
	// Chunks 输出编码数据，缓冲数据全部刷新后关闭
	Chunks() <-chan []byte
	// Stop 通知采集结束，剩余数据仍从 Chunks 送出
	Stop() error
	// Close 立即释放设备，丢弃尚未刷新的数据
	Close() error
	// Err 采集错误，Chunks 关闭后才有意义
	Err() error
	MediaType() string
}
