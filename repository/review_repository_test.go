package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"PIIReview/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockRepo(t *testing.T) (ReviewRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	return NewGormReviewRepository(gdb), mock
}

func TestSaveBatchWritesFiles(t *testing.T) {
	repo, mock := newMockRepo(t)
	files := []*model.Artifact{
		model.NewArtifact("a.wav", "audio/wav", []byte("a")),
		model.NewArtifact("b.wav", "audio/wav", []byte("b")),
	}
	results := []model.DetectionResult{{Filename: "a.wav", Transcript: "call me", Entities: []model.Entity{{EntityType: "PHONE-NO", Word: "5551234567"}}}}
	batch := model.NewReviewBatch("batch-1", "deberta", "entity_detection", files, results)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `review_batches`")).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `review_files`")).
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveBatch(context.Background(), batch))
	assert.EqualValues(t, 7, batch.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatchRejectsMissingID(t *testing.T) {
	repo, _ := newMockRepo(t)
	assert.Error(t, repo.SaveBatch(context.Background(), &model.ReviewBatch{}))
	assert.Error(t, repo.SaveBatch(context.Background(), nil))
}

func TestListRecentDefaultsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "batch_id", "model", "capabilities", "file_count", "created_at"}).
		AddRow(2, "b2", "unsloth", "entity_detection,redaction", 1, now).
		AddRow(1, "b1", "deberta", "entity_detection", 3, now.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `review_batches` ORDER BY created_at DESC LIMIT ?")).
		WithArgs(DefaultHistoryLimit).
		WillReturnRows(rows)

	batches, err := repo.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "b2", batches[0].BatchID)
	assert.Equal(t, 3, batches[1].FileCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByBatchIDPreloadsFiles(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `review_batches` WHERE batch_id = ?")).
		WithArgs("b1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_id", "model", "file_count"}).
			AddRow(4, "b1", "deberta", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `review_files` WHERE `review_files`.`batch_ref_id` = ?")).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_ref_id", "position", "filename", "entities"}).
			AddRow(9, 4, 0, "a.wav", `[{"entity_type":"NAME","word":"Ada"}]`))

	batch, err := repo.GetByBatchID(context.Background(), "b1")
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Len(t, batch.Files, 1)
	assert.Equal(t, "a.wav", batch.Files[0].Filename)
	assert.Equal(t, "Ada", batch.Files[0].Entities[0].Word)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByBatchIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `review_batches`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	batch, err := repo.GetByBatchID(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, batch)
}

func TestNewReviewBatchPairsByPosition(t *testing.T) {
	files := []*model.Artifact{
		model.NewArtifact("a.wav", "audio/wav", nil),
		model.NewArtifact("b.webm", "audio/webm", nil),
	}
	b := model.NewReviewBatch("x", "deberta", "entity_detection", files, []model.DetectionResult{{Transcript: "hi", RedactedAudioURL: "/r/a"}})

	require.Len(t, b.Files, 2)
	assert.Equal(t, 2, b.FileCount)
	assert.Equal(t, "hi", b.Files[0].Transcript)
	assert.Equal(t, "/r/a", b.Files[0].RedactedAudioURL)
	assert.Equal(t, 1, b.Files[1].Position)
	assert.Empty(t, b.Files[1].Transcript)
}
