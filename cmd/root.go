package cmd

import (
	"fmt"
	"os"

	"PIIReview/config"
	"PIIReview/logger"

	"github.com/spf13/cobra"
)

// annotationInteractive marks commands that own the terminal; their logs go to the
// log file only.
const annotationInteractive = "interactive"

var (
	cfg       *config.Config
	logLevel  string
	quietLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "piireview",
	Short: "PIIReview 音频隐私审阅工作站",
	Long: `PIIReview 录制或上传音频，提交到 PII 检测服务，并对原始音频与脱敏音频
进行对照回放审阅。`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogPath,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   cfg.LogCompress,
			Quiet:      quietLogs || cmd.Annotations[annotationInteractive] == "true",
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietLogs, "quiet", "q", false, "不向标准输出打印日志")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)，覆盖 LOG_LEVEL")
}
