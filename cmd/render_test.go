package cmd

import (
	"bytes"
	"testing"

	"PIIReview/core/entity"
	"PIIReview/core/playback"
	"PIIReview/core/review"
	"PIIReview/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	c, err := parseCommand("seek r 40")
	require.NoError(t, err)
	assert.Equal(t, command{op: "seek", channel: "r", percent: 40}, c)

	c, err = parseCommand("  restart original ")
	require.NoError(t, err)
	assert.Equal(t, command{op: "restart", channel: "o"}, c)

	c, err = parseCommand("o")
	require.NoError(t, err)
	assert.Equal(t, "toggle", c.op)

	c, err = parseCommand("")
	require.NoError(t, err)
	assert.Equal(t, "v", c.op)

	for _, bad := range []string{"seek x 10", "seek o abc", "restart", "jump"} {
		_, err := parseCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestRenderView(t *testing.T) {
	entities := []model.Entity{{EntityType: "PHONE-NO", Word: "5551234567"}}
	transcript := "call 5551234567 now"
	v := review.View{
		Index:              1,
		Total:              3,
		Filename:           "b.wav",
		HasResult:          true,
		RedactedTranscript: "call [PHONE-NO] now",
		RedactedAudio:      true,
		Groups:             entity.GroupByType(entities),
		Segments:           entity.Highlight(transcript, entities),
		Original:           playback.Snapshot{State: playback.StatePlaying, Position: 65, Duration: 125},
		Redacted:           playback.Snapshot{State: playback.StateLoading},
	}

	var buf bytes.Buffer
	renderView(&buf, v)
	out := buf.String()
	assert.Contains(t, out, "[2/3] b.wav")
	assert.Contains(t, out, "playing  01:05 / 02:05")
	assert.Contains(t, out, "redacted")
	assert.Contains(t, out, "call «5551234567» now")
	assert.Contains(t, out, "555-123-4567")
}

func TestRenderEmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	renderView(&buf, review.View{})
	assert.Contains(t, buf.String(), "没有待审阅的文件")
}

func TestRenderViewWithoutResult(t *testing.T) {
	var buf bytes.Buffer
	renderView(&buf, review.View{Total: 2, Filename: "a.wav"})
	assert.Contains(t, buf.String(), "尚无检测结果")

	buf.Reset()
	renderView(&buf, review.View{Index: 1, Total: 2, Filename: "b.wav", Detected: true})
	assert.Contains(t, buf.String(), "该文件没有返回检测结果")
	assert.NotContains(t, buf.String(), "尚无检测结果")
}
