package store

import (
	"errors"

	"epubshelf/pkg/domain"
)

// ErrNotFound is returned by lookups that target a specific row.
var ErrNotFound = errors.New("record not found")

// Store defines persistence operations for users, books, library entries,
// chapters, reading progress, and the activity log.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// books. CreateBook inserts the canonical record for a content hash with
	// conflict-is-success semantics: when another writer won the race on the
	// unique hash index, the existing row is returned and created is false.
	CreateBook(book domain.Book, chapters []domain.Chapter) (b domain.Book, created bool, err error)
	GetBookByHash(hash string) (domain.Book, bool, error)
	GetBook(id string) (domain.Book, bool, error)
	DeleteBook(id string) error

	// library entries
	AddLibraryEntry(entry domain.LibraryEntry) error
	HasLibraryEntry(userID, bookID string) (bool, error)
	RemoveLibraryEntry(userID, bookID string) error
	CountBookOwners(bookID string) (int, error)
	ListBooksByUser(userID string) ([]domain.Book, error)
	UserStorageUsage(userID string) (int64, error)

	// chapters
	ListChapters(bookID string) ([]domain.Chapter, error)
	GetChapter(bookID, chapterID string) (domain.Chapter, bool, error)

	// reading progress (last-writer-wins per user/book pair)
	GetProgress(userID, bookID string) (domain.ReadingProgress, bool, error)
	UpsertProgress(domain.ReadingProgress) error

	// activity log
	AppendActivity(domain.Activity) error
	ListActivityByUser(userID string, limit int) ([]domain.Activity, error)
}

// SessionStore issues and validates access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
