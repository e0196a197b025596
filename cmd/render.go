package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"PIIReview/core/entity"
	"PIIReview/core/playback"
	"PIIReview/core/review"
)

func channelLine(name string, s playback.Snapshot) string {
	line := fmt.Sprintf("%-9s %-8s %s / %s", name, s.State, entity.FormatTime(s.Position), entity.FormatTime(s.Duration))
	if s.Error != "" {
		line += "  (" + s.Error + ")"
	}
	return line
}

// renderView prints the active file the way the review screen lays it out.
func renderView(w io.Writer, v review.View) {
	if v.Total == 0 {
		fmt.Fprintln(w, "没有待审阅的文件")
		return
	}
	fmt.Fprintf(w, "\n[%d/%d] %s\n", v.Index+1, v.Total, v.Filename)
	fmt.Fprintln(w, channelLine("original", v.Original))
	if v.RedactedAudio {
		fmt.Fprintln(w, channelLine("redacted", v.Redacted))
	}

	switch {
	case v.Submitting:
		fmt.Fprintln(w, "检测中...")
	case v.SubmitError != "":
		fmt.Fprintf(w, "检测失败: %s\n", v.SubmitError)
	case !v.HasResult && v.Detected:
		fmt.Fprintln(w, "该文件没有返回检测结果")
		return
	case !v.HasResult:
		fmt.Fprintln(w, "尚无检测结果")
		return
	}
	if !v.HasResult {
		return
	}

	fmt.Fprintf(w, "\n原文:   %s\n", highlighted(v.Segments))
	if v.RedactedTranscript != "" {
		fmt.Fprintf(w, "脱敏后: %s\n", v.RedactedTranscript)
	}
	if len(v.Groups) == 0 {
		fmt.Fprintln(w, "未检测到 PII")
		return
	}
	for _, g := range v.Groups {
		values := make([]string, 0, len(g.Entities))
		for _, e := range g.Entities {
			values = append(values, entity.FormatValue(e))
		}
		fmt.Fprintf(w, "  %s (%d): %s\n", g.Label, len(g.Entities), strings.Join(values, ", "))
	}
}

// highlighted marks entity segments with brackets for a plain terminal.
func highlighted(segments []entity.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.EntityType != "" {
			b.WriteString("«" + s.Text + "»")
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// command is one line typed at the review prompt.
type command struct {
	op      string
	channel string
	percent float64
}

const reviewHelp = `命令:
  n / p              下一个 / 上一个文件
  o / r              播放或暂停 原始 / 脱敏 音频
  seek o|r <0-100>   跳转到百分比位置
  restart o|r        回到开头
  v                  重新显示当前文件
  q                  退出`

func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return command{op: "v"}, nil
	}
	op := strings.ToLower(fields[0])
	switch op {
	case "n", "p", "v", "q", "h", "?":
		return command{op: op}, nil
	case "o", "r":
		return command{op: "toggle", channel: op}, nil
	case "restart":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("用法: restart o|r")
		}
		ch, err := channelArg(fields[1])
		return command{op: op, channel: ch}, err
	case "seek":
		if len(fields) != 3 {
			return command{}, fmt.Errorf("用法: seek o|r <0-100>")
		}
		ch, err := channelArg(fields[1])
		if err != nil {
			return command{}, err
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "%"), 64)
		if err != nil {
			return command{}, fmt.Errorf("无效的百分比 %q", fields[2])
		}
		return command{op: op, channel: ch, percent: pct}, nil
	}
	return command{}, fmt.Errorf("未知命令 %q，输入 h 查看帮助", fields[0])
}

func channelArg(s string) (string, error) {
	switch strings.ToLower(s) {
	case "o", "original":
		return "o", nil
	case "r", "redacted":
		return "r", nil
	}
	return "", fmt.Errorf("未知通道 %q", s)
}
