package history

import "time"

// Submission is one processed Slack message.
type Submission struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	RequestID       string `gorm:"size:36;not null;uniqueIndex"`
	Channel         string `gorm:"size:32;not null;index"`
	ThreadTS        string `gorm:"size:32;not null"`
	UserID          string `gorm:"size:32"`
	Prompt          string `gorm:"type:text"`
	TranscriptError string `gorm:"size:256"`
	CreatedAt       time.Time
	Results         []ServiceResult `gorm:"foreignKey:SubmissionID"`
}

// ServiceResult is one service's outcome for a Submission.
type ServiceResult struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SubmissionID uint   `gorm:"not null;index"`
	Service      string `gorm:"size:64;not null"`
	URL          string `gorm:"size:512"`
	Error        string `gorm:"type:text"`
	Attempts     int
	DurationMs   int64
	CreatedAt    time.Time
}

// Succeeded reports whether the service produced a URL.
func (r ServiceResult) Succeeded() bool {
	return r.URL != ""
}

// AllModels returns every model the history store migrates.
func AllModels() []interface{} {
	return []interface{}{
		&Submission{},
		&ServiceResult{},
	}
}
