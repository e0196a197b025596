package cmd

import (
	"PIIReview/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动审阅服务器",
	Long:  `启动 PIIReview 的 HTTP 服务器，提供批次上传、对照回放、录音和进度推送 API`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
