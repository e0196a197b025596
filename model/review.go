package model

import "time"

// ReviewBatch 一次提交检测的批次记录
type ReviewBatch struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	BatchID      string       `gorm:"size:64;uniqueIndex" json:"batchId"`
	Model        string       `gorm:"size:32" json:"model"`
	Capabilities string       `gorm:"size:128" json:"capabilities"` // comma-joined
	FileCount    int          `json:"fileCount"`
	Files        []ReviewFile `gorm:"foreignKey:BatchRefID" json:"files,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// ReviewFile 批次中单个文件的检测结果
type ReviewFile struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	BatchRefID         uint      `gorm:"index" json:"-"`
	Position           int       `json:"position"`
	Filename           string    `gorm:"size:255" json:"filename"`
	MediaType          string    `gorm:"size:64" json:"mediaType"`
	Transcript         string    `gorm:"type:text" json:"transcript"`
	RedactedTranscript string    `gorm:"type:text" json:"redactedTranscript"`
	Entities           []Entity  `gorm:"serializer:json;type:text" json:"entities"`
	RedactedAudioURL   string    `gorm:"size:512" json:"redactedAudioUrl"`
	CreatedAt          time.Time `json:"createdAt"`
}

// NewReviewBatch pairs files and results by position; files without a result keep
// empty transcript fields.
func NewReviewBatch(batchID, modelName, capabilities string, files []*Artifact, results []DetectionResult) *ReviewBatch {
	b := &ReviewBatch{
		BatchID:      batchID,
		Model:        modelName,
		Capabilities: capabilities,
		FileCount:    len(files),
	}
	for i, f := range files {
		rf := ReviewFile{Position: i}
		if f != nil {
			rf.Filename = f.Name()
			rf.MediaType = f.MediaType()
		}
		if i < len(results) {
			r := results[i]
			if rf.Filename == "" {
				rf.Filename = r.Filename
			}
			rf.Transcript = r.Transcript
			rf.RedactedTranscript = r.RedactedTranscript
			rf.Entities = r.Entities
			rf.RedactedAudioURL = r.RedactedAudioURL
		}
		b.Files = append(b.Files, rf)
	}
	return b
}
