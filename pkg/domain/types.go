package domain

import "time"

type BookFormat string

const (
	FormatEPUB BookFormat = "epub"
	FormatPDF  BookFormat = "pdf"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Book is the canonical record for a distinct uploaded file. Identity is the
// SHA-256 content hash; at most one Book row exists per hash.
type Book struct {
	ID               string     `json:"id"`
	ContentHash      string     `json:"contentHash"`
	Title            string     `json:"title"`
	Author           string     `json:"author,omitempty"`
	Format           BookFormat `json:"format"`
	OriginalFilename string     `json:"originalFilename"`
	SizeBytes        int64      `json:"sizeBytes"`
	StorageKey       string     `json:"-"`
	CoverKey         string     `json:"-"`
	HasCover         bool       `json:"hasCover"`
	PageCount        int        `json:"pageCount,omitempty"`
	Extra            BookExtra  `json:"extra"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// BookExtra carries optional metadata the extractors may or may not find.
type BookExtra struct {
	Language    string   `json:"language,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Description string   `json:"description,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
}

// Chapter is one linear reading unit of an EPUB book.
type Chapter struct {
	ID        string `json:"id"`
	BookID    string `json:"bookId"`
	Title     string `json:"title"`
	Ordinal   int    `json:"ordinal"`
	FileKey   string `json:"-"`
	SizeBytes int64  `json:"sizeBytes"`
}

// LibraryEntry associates a user with a book. The (UserID, BookID) pair is
// unique; re-uploading known content resolves to the existing entry.
type LibraryEntry struct {
	ID      string    `json:"id"`
	UserID  string    `json:"userId"`
	BookID  string    `json:"bookId"`
	AddedAt time.Time `json:"addedAt"`
}

// ReadingProgress is the single authoritative progress record per
// (user, book) pair. Updates are last-writer-wins.
type ReadingProgress struct {
	UserID          string    `json:"-"`
	BookID          string    `json:"bookId"`
	ChapterIndex    int       `json:"chapterIndex"`
	ProgressPercent float64   `json:"progressPercent"`
	LastReadAt      time.Time `json:"lastReadAt"`
}

type ActivityAction string

const (
	ActionUpload   ActivityAction = "upload"
	ActionDownload ActivityAction = "download"
	ActionDelete   ActivityAction = "delete"
)

// Activity is one row of the per-user activity log.
type Activity struct {
	ID        string         `json:"id"`
	UserID    string         `json:"-"`
	Action    ActivityAction `json:"action"`
	BookTitle string         `json:"bookTitle"`
	SizeBytes int64          `json:"sizeBytes"`
	CreatedAt time.Time      `json:"createdAt"`
}
