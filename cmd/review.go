package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"PIIReview/core/detection"
	"PIIReview/core/playback"
	"PIIReview/core/review"
	"PIIReview/internal/station"
	"PIIReview/model"

	"github.com/spf13/cobra"
)

var (
	reviewModel        string
	reviewCapabilities []string
	reviewHeadless     bool
)

var reviewCmd = &cobra.Command{
	Use:         "review FILE...",
	Short:       "在终端中审阅音频批次",
	Long:        `上传一批音频到检测服务，在终端中逐个文件查看检测结果，并对照播放原始与脱敏音频。`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{annotationInteractive: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := detection.NewOptions(reviewModel, reviewCapabilities)
		if err != nil {
			return err
		}
		files, err := readArtifacts(args)
		if err != nil {
			return err
		}

		var stOpts []station.Option
		if reviewHeadless {
			stOpts = append(stOpts, station.Headless())
		}
		st := station.New(cfg, stOpts...)
		defer st.Close()

		ws := st.Workspace
		if _, err := ws.SetFiles(files); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "已载入 %d 个文件，正在提交检测 (模型 %s, %s)...\n", len(files), opts.Model, opts.CapabilityList())

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		submitted := make(chan error, 1)
		go func() {
			_, err := ws.Submit(ctx, st.Detector, opts)
			submitted <- err
		}()

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		renderView(out, ws.View())
		fmt.Fprintln(out, reviewHelp)
		for {
			fmt.Fprint(out, "> ")
			select {
			case err := <-submitted:
				if err != nil {
					fmt.Fprintf(out, "\n检测失败: %v\n", err)
				} else {
					fmt.Fprintln(out, "\n检测完成")
				}
				renderView(out, ws.View())
				submitted = nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				c, err := parseCommand(line)
				if err != nil {
					fmt.Fprintln(out, err)
					continue
				}
				if c.op == "q" {
					return nil
				}
				if err := applyCommand(ctx, ws, c); err != nil {
					fmt.Fprintln(out, err)
				}
				if c.op == "h" || c.op == "?" {
					fmt.Fprintln(out, reviewHelp)
					continue
				}
				renderView(out, ws.View())
			}
		}
	},
}

func applyCommand(ctx context.Context, ws *review.Workspace, c command) error {
	ch := ws.Original()
	if c.channel == "r" {
		ch = ws.Redacted()
	}
	switch c.op {
	case "n":
		if !ws.Next() {
			return fmt.Errorf("已经是最后一个文件")
		}
	case "p":
		if !ws.Prev() {
			return fmt.Errorf("已经是第一个文件")
		}
	case "toggle":
		return describe(ch.Toggle(ctx))
	case "restart":
		return describe(ch.Restart(ctx))
	case "seek":
		return describe(ch.Seek(c.percent / 100))
	}
	return nil
}

func describe(err error) error {
	if errors.Is(err, playback.ErrNotReady) {
		return fmt.Errorf("音频尚未就绪")
	}
	return err
}

func readArtifacts(paths []string) ([]*model.Artifact, error) {
	files := make([]*model.Artifact, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", p, err)
		}
		name := filepath.Base(p)
		files = append(files, model.NewArtifact(name, model.MediaTypeFromName(name), data))
	}
	return files, nil
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().StringVarP(&reviewModel, "model", "m", "deberta", "检测模型 (deberta, unsloth)")
	reviewCmd.Flags().StringSliceVarP(&reviewCapabilities, "capability", "c", []string{detection.CapabilityEntityDetection}, "检测能力 (entity_detection, redaction)")
	reviewCmd.Flags().BoolVar(&reviewHeadless, "headless", false, "不输出声音，只模拟播放进度")

	reviewCmd.Example = `  # 审阅两个文件并生成脱敏音频
  piireview review call1.wav call2.webm -c redaction

  # 使用 unsloth 模型
  piireview review call.wav -m unsloth`
}
