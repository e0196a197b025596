package entity

import (
	"sort"
	"strings"
	"unicode"

	"PIIReview/model"
)

// Segment 一段转写文本，普通文本的 EntityType 为空
type Segment struct {
	Text       string `json:"text"`
	EntityType string `json:"entity_type,omitempty"`
}

type span struct {
	start, end int // rune offsets, end exclusive
	entityType string
}

// locate 把实体映射到文本中互不重叠的区间。先放置偏移量有效的实体，其余按词长从长到短
// 做大小写不敏感查找，与已有区间重叠的丢弃。
func locate(text []rune, entities []model.Entity) []span {
	var placed []span
	free := func(s span) bool {
		for _, p := range placed {
			if s.start < p.end && p.start < s.end {
				return false
			}
		}
		return true
	}

	var byValue []model.Entity
	for _, e := range entities {
		if e.HasOffsets() && *e.End <= len(text) {
			s := span{start: *e.Start, end: *e.End, entityType: e.EntityType}
			if free(s) {
				placed = append(placed, s)
			}
			continue
		}
		if strings.TrimSpace(e.Word) != "" {
			byValue = append(byValue, e)
		}
	}

	sort.SliceStable(byValue, func(i, j int) bool {
		return len([]rune(byValue[i].Word)) > len([]rune(byValue[j].Word))
	})
	lower := lowerRunes(text)
	for _, e := range byValue {
		word := lowerRunes([]rune(e.Word))
		for i := 0; i+len(word) <= len(lower); {
			if !runesEqual(lower[i:i+len(word)], word) {
				i++
				continue
			}
			s := span{start: i, end: i + len(word), entityType: e.EntityType}
			if free(s) {
				placed = append(placed, s)
				i = s.end
				continue
			}
			i++
		}
	}

	sort.Slice(placed, func(i, j int) bool { return placed[i].start < placed[j].start })
	return placed
}

// Highlight 把转写文本切分成普通段和实体段
func Highlight(transcript string, entities []model.Entity) []Segment {
	if transcript == "" {
		return nil
	}
	text := []rune(transcript)
	spans := locate(text, entities)

	var out []Segment
	cursor := 0
	for _, s := range spans {
		if s.start > cursor {
			out = append(out, Segment{Text: string(text[cursor:s.start])})
		}
		out = append(out, Segment{Text: string(text[s.start:s.end]), EntityType: s.entityType})
		cursor = s.end
	}
	if cursor < len(text) {
		out = append(out, Segment{Text: string(text[cursor:])})
	}
	return out
}

// Redact 把每个实体替换为 "[NAME]" 形式的类型标记，检测服务未返回脱敏文本时使用
func Redact(transcript string, entities []model.Entity) string {
	if len(entities) == 0 {
		return transcript
	}
	text := []rune(transcript)
	spans := locate(text, entities)

	var b strings.Builder
	cursor := 0
	for _, s := range spans {
		b.WriteString(string(text[cursor:s.start]))
		b.WriteString("[" + s.entityType + "]")
		cursor = s.end
	}
	b.WriteString(string(text[cursor:]))
	return b.String()
}

func lowerRunes(r []rune) []rune {
	out := make([]rune, len(r))
	for i, c := range r {
		out[i] = unicode.ToLower(c)
	}
	return out
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
