package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Uniqueness of content hash and of the
// (user, book) pairs is enforced by the database, which is the safety net
// for concurrent uploads and progress writes.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID               string         `gorm:"primaryKey"`
	ContentHash      string         `gorm:"uniqueIndex;not null"`
	Title            string         `gorm:"not null"`
	Author           string
	Format           string         `gorm:"not null"`
	OriginalFilename string         `gorm:"not null"`
	SizeBytes        int64          `gorm:"not null"`
	StorageKey       string         `gorm:"not null"`
	CoverKey         string
	PageCount        int
	Extra            datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

type ChapterModel struct {
	ID        string `gorm:"primaryKey"`
	BookID    string `gorm:"not null;index"`
	Title     string
	Ordinal   int    `gorm:"not null"`
	FileKey   string `gorm:"not null"`
	SizeBytes int64  `gorm:"not null"`
}

type LibraryEntryModel struct {
	ID      string    `gorm:"primaryKey"`
	UserID  string    `gorm:"not null;uniqueIndex:idx_library_user_book"`
	BookID  string    `gorm:"not null;uniqueIndex:idx_library_user_book;index"`
	AddedAt time.Time `gorm:"not null"`
}

type ProgressModel struct {
	ID              string    `gorm:"primaryKey"`
	UserID          string    `gorm:"not null;uniqueIndex:idx_progress_user_book"`
	BookID          string    `gorm:"not null;uniqueIndex:idx_progress_user_book"`
	ChapterIndex    int       `gorm:"not null"`
	ProgressPercent float64   `gorm:"not null"`
	LastReadAt      time.Time `gorm:"not null"`
}

type ActivityModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Action    string    `gorm:"not null"`
	BookTitle string
	SizeBytes int64
	CreatedAt time.Time `gorm:"not null;index"`
}
