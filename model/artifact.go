package model

import (
	"bytes"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// Artifact is an immutable audio payload: a recorded take, an uploaded file, or the
// redacted audio returned by the detection backend.
type Artifact struct {
	name      string
	mediaType string
	data      []byte
}

// NewArtifact copies data so later mutation by the caller cannot change the artifact.
func NewArtifact(name, mediaType string, data []byte) *Artifact {
	buf := make([]byte, len(data))
	copy(buf, data)
	if mediaType == "" {
		mediaType = MediaTypeFromName(name)
	}
	return &Artifact{name: name, mediaType: mediaType, data: buf}
}

func (a *Artifact) Name() string      { return a.name }
func (a *Artifact) MediaType() string { return a.mediaType }
func (a *Artifact) Size() int         { return len(a.data) }

// Reader returns a fresh reader over the payload.
func (a *Artifact) Reader() io.Reader { return bytes.NewReader(a.data) }

// Bytes returns a copy of the payload.
func (a *Artifact) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// Ext returns the file extension for the artifact, preferring the name's own.
func (a *Artifact) Ext() string {
	if ext := filepath.Ext(a.name); ext != "" {
		return ext
	}
	return ExtForMediaType(a.mediaType)
}

var knownTypes = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
}

// MediaTypeFromName guesses an audio media type from a file name.
func MediaTypeFromName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ExtForMediaType maps a media type (parameters ignored) back to an extension.
func ExtForMediaType(mediaType string) string {
	base, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		base = mediaType
	}
	switch base {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "audio/flac":
		return ".flac"
	}
	return ""
}
