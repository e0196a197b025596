package detection

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PIIReview/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSendsMultipartBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/detect-pii", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "unsloth", r.FormValue("model"))
		assert.Equal(t, "entity_detection,redaction", r.FormValue("capabilities"))

		files := r.MultipartForm.File["audio"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.wav", files[0].Filename)
		assert.Equal(t, "recording.webm", files[1].Filename)
		f, err := files[1].Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "webm-bytes", string(data))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"filename":            "a.wav",
					"transcript":          "i am lucas",
					"redacted_transcript": "i am [NAME]",
					"entities":            []map[string]any{{"entity_type": "NAME", "word": "lucas", "start": 5, "end": 10, "score": 0.98}},
					"redacted_audio_url":  "/api/download/redacted_1.wav",
				},
				{"filename": "recording.webm", "transcript": "nothing", "entities": []any{}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	opts, err := NewOptions("Unsloth", []string{"redaction"})
	require.NoError(t, err)

	results, err := c.Detect(context.Background(), []*model.Artifact{
		model.NewArtifact("a.wav", "audio/wav", []byte("wav-bytes")),
		model.NewArtifact("recording.webm", "audio/webm", []byte("webm-bytes")),
	}, opts)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "i am [NAME]", first.RedactedTranscript)
	require.Len(t, first.Entities, 1)
	assert.True(t, first.Entities[0].HasOffsets())
	assert.InDelta(t, 0.98, *first.Entities[0].Score, 1e-9)
	assert.True(t, first.HasRedactedAudio())
	assert.False(t, results[1].HasRedactedAudio())
}

func TestDetectRejectsEmptyBatch(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.Detect(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestDetectSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"No audio files provided"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Detect(context.Background(), []*model.Artifact{model.NewArtifact("a.wav", "audio/wav", []byte("x"))}, Options{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "No audio files provided", apiErr.Message)
}

func TestFetchAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/download/redacted_1.wav":
			w.Header().Set("Content-Type", "audio/x-wav")
			_, _ = w.Write([]byte("RIFF-data"))
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"File not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 5*time.Second)
	a, err := c.FetchAudio(context.Background(), "/api/download/redacted_1.wav")
	require.NoError(t, err)
	assert.Equal(t, "redacted_1.wav", a.Name())
	assert.Equal(t, "audio/x-wav", a.MediaType())
	assert.Equal(t, "RIFF-data", string(a.Bytes()))

	_, err = c.FetchAudio(context.Background(), "/api/download/missing.wav")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestFetchAudioHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchAudio(ctx, "/api/download/slow.wav")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","pii_detector_loaded":true}`))
	}))
	defer srv.Close()

	h, err := NewClient(srv.URL, time.Second).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.DetectorLoaded)
}

func TestOptions(t *testing.T) {
	opts, err := NewOptions("", nil)
	require.NoError(t, err)
	assert.Equal(t, ModelDeBERTa, opts.Model)
	assert.Equal(t, "entity_detection", opts.CapabilityList())

	opts, err = NewOptions("deberta", []string{"entity_detection", "redaction", "redaction"})
	require.NoError(t, err)
	assert.Equal(t, "entity_detection,redaction", opts.CapabilityList())

	_, err = NewOptions("gpt", nil)
	assert.Error(t, err)
	_, err = NewOptions("deberta", []string{"transcribe"})
	assert.Error(t, err)
}
