package detection

import (
	"fmt"
	"strings"
)

// Model 服务端使用的检测模型
type Model string

const (
	ModelDeBERTa Model = "deberta"
	ModelUnsloth Model = "unsloth"
)

// ParseModel 大小写不敏感，空字符串为默认模型
func ParseModel(s string) (Model, error) {
	switch Model(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModelDeBERTa:
		return ModelDeBERTa, nil
	case ModelUnsloth:
		return ModelUnsloth, nil
	}
	return "", fmt.Errorf("unknown detection model %q", s)
}

const (
	CapabilityEntityDetection = "entity_detection"
	CapabilityRedaction       = "redaction"
)

// ExpandCapabilities 规范化能力选择：redaction 隐含 entity_detection，未知名称报错，
// 空选择等同于只做实体检测。
func ExpandCapabilities(selected []string) ([]string, error) {
	want := map[string]bool{}
	for _, c := range selected {
		c = strings.ToLower(strings.TrimSpace(c))
		switch c {
		case "":
		case CapabilityEntityDetection:
			want[c] = true
		case CapabilityRedaction:
			want[CapabilityEntityDetection] = true
			want[CapabilityRedaction] = true
		default:
			return nil, fmt.Errorf("unknown capability %q", c)
		}
	}

	out := []string{CapabilityEntityDetection}
	if want[CapabilityRedaction] {
		out = append(out, CapabilityRedaction)
	}
	return out, nil
}

// Options are sent with every detection request.
type Options struct {
	Model        Model
	Capabilities []string
}

// NewOptions 校验模型名和能力选择
func NewOptions(model string, capabilities []string) (Options, error) {
	m, err := ParseModel(model)
	if err != nil {
		return Options{}, err
	}
	caps, err := ExpandCapabilities(capabilities)
	if err != nil {
		return Options{}, err
	}
	return Options{Model: m, Capabilities: caps}, nil
}

// CapabilityList 服务端要求的逗号分隔形式
func (o Options) CapabilityList() string {
	return strings.Join(o.Capabilities, ",")
}
