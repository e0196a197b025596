package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"PIIReview/core/entity"
	"PIIReview/internal/station"
	"PIIReview/model"

	"github.com/spf13/cobra"
)

var (
	recordOut     string
	recordArchive bool
	recordDetect  bool
)

var recordCmd = &cobra.Command{
	Use:         "record",
	Short:       "从麦克风录音",
	Long:        `从麦克风录音，按回车结束，录音写入文件；可选归档到 MinIO 或直接提交检测。`,
	Annotations: map[string]string{annotationInteractive: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		st := station.New(cfg, station.Headless(), station.WithTickHook(func(d time.Duration) {
			fmt.Fprintf(out, "\r录音中 %s  (回车结束)", entity.FormatTime(d.Seconds()))
		}))
		defer st.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		rec := st.Recorder
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("无法打开麦克风: %w", err)
		}

		enter := make(chan struct{})
		go func() {
			bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			close(enter)
		}()
		select {
		case <-enter:
		case <-ctx.Done():
			rec.Reset()
			fmt.Fprintln(out, "\n录音已取消")
			return nil
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := rec.Stop(stopCtx); err != nil {
			return fmt.Errorf("\n结束录音失败: %w", err)
		}
		elapsed := rec.Elapsed()
		take, err := rec.Commit()
		if err != nil {
			return err
		}

		path := recordOut
		if path == "" {
			path = time.Now().Format("20060102-150405-") + take.Name()
		}
		if err := os.WriteFile(path, take.Bytes(), 0644); err != nil {
			return fmt.Errorf("写入录音失败: %w", err)
		}
		fmt.Fprintf(out, "\n已保存 %s (%s, %d 字节)\n", path, entity.FormatTime(elapsed.Seconds()), take.Size())

		if recordArchive {
			if st.Archive == nil {
				fmt.Fprintln(out, "MinIO 未启用或不可用，跳过归档")
			} else if obj, err := st.Archive.Save(stopCtx, take); err != nil {
				fmt.Fprintf(out, "归档失败: %v\n", err)
			} else {
				fmt.Fprintf(out, "已归档: %s\n", obj)
			}
		}

		if recordDetect {
			if _, err := st.Workspace.SetFiles([]*model.Artifact{
				model.NewArtifact(filepath.Base(path), take.MediaType(), take.Bytes()),
			}); err != nil {
				return err
			}
			detectCtx, cancel := context.WithTimeout(ctx, cfg.DetectionTimeout)
			defer cancel()
			if _, err := st.Workspace.Submit(detectCtx, st.Detector, st.DefaultOptions()); err != nil {
				return fmt.Errorf("检测失败: %w", err)
			}
			renderView(out, st.Workspace.View())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "输出文件路径 (默认按时间命名)")
	recordCmd.Flags().BoolVar(&recordArchive, "archive", false, "录音归档到 MinIO")
	recordCmd.Flags().BoolVar(&recordDetect, "detect", false, "录音结束后提交 PII 检测")

	recordCmd.Example = `  # 录音并保存到 take.webm
  piireview record -o take.webm

  # 录音、归档并立即检测
  piireview record --archive --detect`
}
