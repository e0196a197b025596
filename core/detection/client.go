package detection

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"PIIReview/logger"
	"PIIReview/model"

	"github.com/go-resty/resty/v2"
)

var ErrEmptyBatch = errors.New("detection: no files to submit")

// APIError 检测服务返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("detection service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("detection service returned %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

type detectBody struct {
	Results []model.DetectionResult `json:"results"`
}

// Health /api/health 的响应
type Health struct {
	Status         string `json:"status"`
	DetectorLoaded bool   `json:"pii_detector_loaded"`
}

// Client PII 检测服务客户端
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// Detect 按顺序提交文件，按相同顺序返回每个文件的结果
func (c *Client) Detect(ctx context.Context, files []*model.Artifact, opts Options) ([]model.DetectionResult, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	if opts.Model == "" {
		opts.Model = ModelDeBERTa
	}
	if len(opts.Capabilities) == 0 {
		opts.Capabilities = []string{CapabilityEntityDetection}
	}

	fields := make([]*resty.MultipartField, 0, len(files))
	for _, f := range files {
		fields = append(fields, &resty.MultipartField{
			Param:       "audio",
			FileName:    f.Name(),
			ContentType: f.MediaType(),
			Reader:      f.Reader(),
		})
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartFields(fields...).
		SetFormData(map[string]string{
			"model":        string(opts.Model),
			"capabilities": opts.CapabilityList(),
		}).
		SetResult(&detectBody{}).
		SetError(&errorBody{}).
		Post("/api/detect-pii")
	if err != nil {
		return nil, fmt.Errorf("detect-pii request: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}

	body := resp.Result().(*detectBody)
	logger.Info("检测完成",
		logger.Int("files", len(files)),
		logger.Int("results", len(body.Results)),
		logger.String("model", string(opts.Model)),
		logger.Duration("took", time.Since(start)))
	return body.Results, nil
}

// FetchAudio 下载脱敏音频，相对路径基于服务地址解析
func (c *Client) FetchAudio(ctx context.Context, ref string) (*model.Artifact, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/*").
		Get(ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}

	name := path.Base(strings.SplitN(ref, "?", 2)[0])
	mediaType := model.MediaTypeFromName(name)
	if ct := resp.Header().Get("Content-Type"); ct != "" {
		if base, _, err := mime.ParseMediaType(ct); err == nil && strings.HasPrefix(base, "audio/") {
			mediaType = base
		}
	}
	return model.NewArtifact(name, mediaType, resp.Body()), nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&Health{}).
		SetError(&errorBody{}).
		Get("/api/health")
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return resp.Result().(*Health), nil
}

func apiError(resp *resty.Response) error {
	e := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		e.Message = body.Error
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(resp.Body()))
	}
	return e
}
