package models

import "time"

const (
	UploadStatusPending   = "pending"
	UploadStatusCommitted = "committed"

	UploadKindImage    = "image"
	UploadKindDocument = "document"
)

// UploadReferenceModel tracks a binary uploaded during a form session until
// the owning entity is saved or the session is swept.
type UploadReferenceModel struct {
	Base
	SessionID string `json:"session_id" gorm:"type:char(36);index;not null"`
	URL       string `json:"url"        gorm:"index;not null"`
	Kind      string `json:"kind"       gorm:"type:varchar(16);not null"`                // image | document
	Status    string `json:"status"     gorm:"type:varchar(16);index;default:'pending'"` // pending | committed

	// Attempts counts failed remote deletes; RetryAt holds the row back from
	// the stale sweep until then.
	Attempts int        `json:"attempts" gorm:"not null;default:0"`
	RetryAt  *time.Time `json:"retry_at" gorm:"index"`
}

func (UploadReferenceModel) TableName() string { return "upload_references" }
