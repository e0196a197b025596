package cmd

import (
	"context"
	"fmt"
	"time"

	"PIIReview/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioDelete string
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "录音归档存储桶管理",
	Long:  `查看 MinIO 存储桶中归档的录音，输出统计信息，或删除单个归档录音。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		client, err := storage.InitMinio(cfg)
		if err != nil {
			return fmt.Errorf("无法连接到MinIO: %w", err)
		}
		fmt.Println("MinIO连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		archive := storage.NewRecordingArchive(client, cfg.MinioBucket)

		if minioDelete != "" {
			if err := archive.Delete(ctx, minioDelete); err != nil {
				return err
			}
			fmt.Printf("已删除: %s\n", minioDelete)
			return nil
		}

		objects, stats, err := archive.List(ctx, minioPrefix)
		if err != nil {
			return err
		}
		fmt.Print(storage.BucketReport(cfg.MinioBucket, storage.RecordingPrefix+minioPrefix, objects, stats))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按日期前缀过滤，例如 2026/10/")
	minioCmd.Flags().StringVarP(&minioDelete, "delete", "d", "", "删除指定的归档对象")

	minioCmd.Example = `  # 列出所有归档录音
  piireview minio

  # 只看某个月的录音
  piireview minio -p "2026/10/"

  # 删除一条归档录音
  piireview minio -d "recordings/2026/10/18/<id>-recording.webm"`
}
