package cmd

import (
	"context"
	"fmt"
	"time"

	"PIIReview/cache"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试脱敏音频缓存所用的 Redis 连接是否成功，并进行基本读写操作。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer func() {
			if err := cache.CloseRedis(); err != nil {
				fmt.Printf("关闭Redis连接时发生错误: %v\n", err)
			}
		}()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fmt.Println("开始测试Redis基本操作...")
		if err := cache.TestRedis(ctx, cache.RedisClient); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		n, err := cache.RedisClient.Keys(ctx, cache.AudioKey("*")).Result()
		if err == nil {
			fmt.Printf("当前缓存的脱敏音频: %d 条 (TTL %s)\n", len(n), cfg.RedactedCacheTTL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
