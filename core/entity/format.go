// Package entity 把检测结果转换成审阅展示内容：实体类型名、分组列表、高亮和脱敏文本。
package entity

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"PIIReview/model"
)

// FormatType 实体类型可读化："PHONE_NO" -> "Phone No"
func FormatType(t string) string {
	parts := strings.Split(t, "_")
	for i, p := range parts {
		r := []rune(strings.ToLower(p))
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

// FormatValue 实体文本，10 位电话号码格式化为 XXX-XXX-XXXX
func FormatValue(e model.Entity) string {
	if e.EntityType == "PHONE-NO" {
		var digits strings.Builder
		for _, r := range e.Word {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		if d := digits.String(); len(d) == 10 {
			return d[:3] + "-" + d[3:6] + "-" + d[6:]
		}
	}
	return e.Word
}

// FormatTime 秒数格式化为 mm:ss，未知或负数为 00:00
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "00:00"
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

type Group struct {
	Type     string         `json:"type"`
	Label    string         `json:"label"`
	Entities []model.Entity `json:"entities"`
}

// GroupByType 按类型分组，组的顺序为类型首次出现的顺序
func GroupByType(entities []model.Entity) []Group {
	var groups []Group
	pos := make(map[string]int)
	for _, e := range entities {
		i, ok := pos[e.EntityType]
		if !ok {
			i = len(groups)
			pos[e.EntityType] = i
			groups = append(groups, Group{Type: e.EntityType, Label: FormatType(e.EntityType)})
		}
		groups[i].Entities = append(groups[i].Entities, e)
	}
	return groups
}
