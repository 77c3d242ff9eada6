package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"epubshelf/pkg/domain"
)

// schemaLockID keys the Postgres advisory lock that serializes migrations
// across replicas.
const schemaLockID int64 = 0x65707562 // "epub"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent instances do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// migrateSchema holds the advisory lock on a dedicated connection for the
// duration of AutoMigrate; the pool must not hand the lock's session to
// another caller.
func migrateSchema(db *gorm.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", schemaLockID)
	}()

	return db.AutoMigrate(
		&UserModel{},
		&BookModel{},
		&ChapterModel{},
		&LibraryEntryModel{},
		&ProgressModel{},
		&ActivityModel{},
	)
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.firstUser("email = ?", email)
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	return s.firstUser("id = ?", id)
}

func (s *GormStore) firstUser(query string, args ...any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateBook inserts the canonical record for a content hash. When a
// concurrent upload already created the row, the unique index on
// content_hash makes the insert a no-op and the winner is returned.
// Chapter rows are written only by the creating transaction.
func (s *GormStore) CreateBook(b domain.Book, chapters []domain.Chapter) (domain.Book, bool, error) {
	model := bookToModel(b)
	created := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_hash"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		if len(chapters) == 0 {
			return nil
		}
		models := make([]ChapterModel, 0, len(chapters))
		for _, c := range chapters {
			models = append(models, chapterToModel(c))
		}
		return tx.CreateInBatches(&models, 200).Error
	})
	if err != nil {
		return domain.Book{}, false, err
	}
	if created {
		return b, true, nil
	}
	winner, ok, err := s.GetBookByHash(b.ContentHash)
	if err != nil {
		return domain.Book{}, false, err
	}
	if !ok {
		return domain.Book{}, false, fmt.Errorf("book vanished after hash conflict: %s", b.ContentHash)
	}
	return winner, false, nil
}

// GetBookByHash retrieves the canonical book for a content hash.
func (s *GormStore) GetBookByHash(hash string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.Where("content_hash = ?", hash).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// DeleteBook removes the book row together with its chapters and any
// remaining progress rows.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChapterModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProgressModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// AddLibraryEntry associates a user with a book; duplicates are ignored.
func (s *GormStore) AddLibraryEntry(entry domain.LibraryEntry) error {
	model := LibraryEntryModel{
		ID:      entry.ID,
		UserID:  entry.UserID,
		BookID:  entry.BookID,
		AddedAt: entry.AddedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// HasLibraryEntry reports whether the user has the book in their library.
func (s *GormStore) HasLibraryEntry(userID, bookID string) (bool, error) {
	var count int64
	err := s.db.Model(&LibraryEntryModel{}).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RemoveLibraryEntry drops the association and the user's progress for it.
func (s *GormStore) RemoveLibraryEntry(userID, bookID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ProgressModel{}, "user_id = ? AND book_id = ?", userID, bookID).Error; err != nil {
			return err
		}
		return tx.Delete(&LibraryEntryModel{}, "user_id = ? AND book_id = ?", userID, bookID).Error
	})
}

// CountBookOwners returns how many users still hold the book.
func (s *GormStore) CountBookOwners(bookID string) (int, error) {
	var count int64
	err := s.db.Model(&LibraryEntryModel{}).
		Where("book_id = ?", bookID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListBooksByUser returns the user's library ordered by when entries were added.
func (s *GormStore) ListBooksByUser(userID string) ([]domain.Book, error) {
	var models []BookModel
	err := s.db.Model(&BookModel{}).
		Joins("JOIN library_entry_models ON library_entry_models.book_id = book_models.id").
		Where("library_entry_models.user_id = ?", userID).
		Order("library_entry_models.added_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(models))
	for _, m := range models {
		books = append(books, bookFromModel(m))
	}
	return books, nil
}

// UserStorageUsage sums the stored sizes of the user's library.
func (s *GormStore) UserStorageUsage(userID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.Model(&LibraryEntryModel{}).
		Select("SUM(book_models.size_bytes)").
		Joins("JOIN book_models ON book_models.id = library_entry_models.book_id").
		Where("library_entry_models.user_id = ?", userID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// ListChapters returns the book's chapters in reading order.
func (s *GormStore) ListChapters(bookID string) ([]domain.Chapter, error) {
	var models []ChapterModel
	if err := s.db.Where("book_id = ?", bookID).Order("ordinal ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	chapters := make([]domain.Chapter, 0, len(models))
	for _, m := range models {
		chapters = append(chapters, chapterFromModel(m))
	}
	return chapters, nil
}

// GetChapter fetches one chapter, scoped to its book.
func (s *GormStore) GetChapter(bookID, chapterID string) (domain.Chapter, bool, error) {
	var model ChapterModel
	if err := s.db.Where("book_id = ? AND id = ?", bookID, chapterID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Chapter{}, false, nil
		}
		return domain.Chapter{}, false, err
	}
	return chapterFromModel(model), true, nil
}

// GetProgress returns the progress row for a (user, book) pair.
func (s *GormStore) GetProgress(userID, bookID string) (domain.ReadingProgress, bool, error) {
	var model ProgressModel
	if err := s.db.Where("user_id = ? AND book_id = ?", userID, bookID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ReadingProgress{}, false, nil
		}
		return domain.ReadingProgress{}, false, err
	}
	return progressFromModel(model), true, nil
}

// UpsertProgress writes the progress row, last writer wins.
func (s *GormStore) UpsertProgress(p domain.ReadingProgress) error {
	model := ProgressModel{
		ID:              newRowID(),
		UserID:          p.UserID,
		BookID:          p.BookID,
		ChapterIndex:    p.ChapterIndex,
		ProgressPercent: p.ProgressPercent,
		LastReadAt:      p.LastReadAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"chapter_index", "progress_percent", "last_read_at"}),
	}).Create(&model).Error
}

// AppendActivity records one activity log row.
func (s *GormStore) AppendActivity(a domain.Activity) error {
	model := ActivityModel{
		ID:        a.ID,
		UserID:    a.UserID,
		Action:    string(a.Action),
		BookTitle: a.BookTitle,
		SizeBytes: a.SizeBytes,
		CreatedAt: a.CreatedAt,
	}
	return s.db.Create(&model).Error
}

// ListActivityByUser returns recent activity, newest first.
func (s *GormStore) ListActivityByUser(userID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ActivityModel
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	items := make([]domain.Activity, 0, len(models))
	for _, m := range models {
		items = append(items, domain.Activity{
			ID:        m.ID,
			UserID:    m.UserID,
			Action:    domain.ActivityAction(m.Action),
			BookTitle: m.BookTitle,
			SizeBytes: m.SizeBytes,
			CreatedAt: m.CreatedAt,
		})
	}
	return items, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	extra, _ := json.Marshal(b.Extra)
	return BookModel{
		ID:               b.ID,
		ContentHash:      b.ContentHash,
		Title:            b.Title,
		Author:           b.Author,
		Format:           string(b.Format),
		OriginalFilename: b.OriginalFilename,
		SizeBytes:        b.SizeBytes,
		StorageKey:       b.StorageKey,
		CoverKey:         b.CoverKey,
		PageCount:        b.PageCount,
		Extra:            extra,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	var extra domain.BookExtra
	if len(m.Extra) > 0 {
		_ = json.Unmarshal(m.Extra, &extra)
	}
	return domain.Book{
		ID:               m.ID,
		ContentHash:      m.ContentHash,
		Title:            m.Title,
		Author:           m.Author,
		Format:           domain.BookFormat(m.Format),
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
		StorageKey:       m.StorageKey,
		CoverKey:         m.CoverKey,
		HasCover:         m.CoverKey != "",
		PageCount:        m.PageCount,
		Extra:            extra,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func chapterToModel(c domain.Chapter) ChapterModel {
	return ChapterModel{
		ID:        c.ID,
		BookID:    c.BookID,
		Title:     c.Title,
		Ordinal:   c.Ordinal,
		FileKey:   c.FileKey,
		SizeBytes: c.SizeBytes,
	}
}

func chapterFromModel(m ChapterModel) domain.Chapter {
	return domain.Chapter{
		ID:        m.ID,
		BookID:    m.BookID,
		Title:     m.Title,
		Ordinal:   m.Ordinal,
		FileKey:   m.FileKey,
		SizeBytes: m.SizeBytes,
	}
}

func progressFromModel(m ProgressModel) domain.ReadingProgress {
	return domain.ReadingProgress{
		UserID:          m.UserID,
		BookID:          m.BookID,
		ChapterIndex:    m.ChapterIndex,
		ProgressPercent: m.ProgressPercent,
		LastReadAt:      m.LastReadAt,
	}
}
