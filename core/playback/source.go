package playback

import (
	"context"

	"PIIReview/model"
)

// Fetcher 下载远程音频引用，例如检测服务返回的脱敏音频路径
type Fetcher interface {
	FetchAudio(ctx context.Context, ref string) (*model.Artifact, error)
}

// Invalidator 由带缓存的 Fetcher 实现，下载到的内容无法解码时丢弃对应缓存
type Invalidator interface {
	Invalidate(ctx context.Context, ref string) error
}

// Source 通道加载的音源：本地音频或远程引用
type Source struct {
	artifact *model.Artifact
	fetcher  Fetcher
	ref      string
}

func LocalSource(a *model.Artifact) Source {
	return Source{artifact: a}
}

func RemoteSource(f Fetcher, ref string) Source {
	return Source{fetcher: f, ref: ref}
}

func (s Source) IsRemote() bool {
	return s.artifact == nil && s.fetcher != nil
}

func (s Source) Name() string {
	if s.artifact != nil {
		return s.artifact.Name()
	}
	return s.ref
}

func (s Source) valid() bool {
	return s.artifact != nil || (s.fetcher != nil && s.ref != "")
}
