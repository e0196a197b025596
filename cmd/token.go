package cmd

import (
	"errors"
	"fmt"
	"time"

	"PIIReview/core/auth"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token REVIEWER",
	Short: "签发 API 访问令牌",
	Long:  `使用 JWT_SECRET 为审阅人签发 bearer token，用于访问启用了鉴权的 API。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET 未设置")
		}
		token, err := auth.GenerateToken(cfg.JWTSecret, args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "令牌有效期")
	tokenCmd.Example = `  piireview token alice --ttl 24h`
}
