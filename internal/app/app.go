package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"epubshelf/internal/ingest"
	"epubshelf/internal/util"
	"epubshelf/pkg/auth"
	"epubshelf/pkg/domain"
	"epubshelf/pkg/storage"
	"epubshelf/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL     string
	SecretKey       string
	RedisAddr       string
	RedisPassword   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	MaxStorageBytes int64
	Store           store.Store
	Sessions        store.SessionStore
	RefreshTokens   store.RefreshTokenStore
	Blobs           storage.BlobStore
}

// App wires together storage, auth, and the ingest pipeline.
type App struct {
	store           store.Store
	sessions        store.SessionStore
	refreshTokens   store.RefreshTokenStore
	blobs           storage.BlobStore
	refreshTTL      time.Duration
	maxStorageBytes int64
}

// New constructs the application. Store, Sessions, RefreshTokens, and Blobs
// may be injected for tests; otherwise they are built from the config.
func New(cfg Config) (*App, error) {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxStorageBytes == 0 {
		cfg.MaxStorageBytes = 1 << 30
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	// A shared Redis client backs token revocation and refresh token
	// families; without Redis both fall back to in-memory stores.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if strings.TrimSpace(cfg.SecretKey) == "" {
			return nil, fmt.Errorf("secret key required")
		}
		var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		if redisClient != nil {
			revoker = store.NewRedisTokenRevoker(redisClient)
		}
		sessionStore = store.NewJWTSessionStore(cfg.SecretKey, cfg.AccessTokenTTL, revoker)
	}

	refreshStore := cfg.RefreshTokens
	if refreshStore == nil {
		if redisClient != nil {
			refreshStore = store.NewRedisRefreshTokenStore(redisClient)
		} else {
			refreshStore = store.NewMemoryRefreshTokenStore()
		}
	}

	blobs := cfg.Blobs
	if blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}

	return &App{
		store:           dataStore,
		sessions:        sessionStore,
		refreshTokens:   refreshStore,
		blobs:           blobs,
		refreshTTL:      cfg.RefreshTokenTTL,
		maxStorageBytes: cfg.MaxStorageBytes,
	}, nil
}

// Register creates a new account.
func (a *App) Register(email, password string) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Login validates credentials and issues an access/refresh token pair.
func (a *App) Login(email, password string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	accessToken, refreshToken, err := a.issueTokens(user.ID)
	if err != nil {
		return domain.User{}, "", "", err
	}
	return user, accessToken, refreshToken, nil
}

// Refresh rotates the refresh token and issues a new token pair.
func (a *App) Refresh(refreshToken string) (domain.User, string, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.User{}, "", "", ErrRefreshTokenRequired
	}
	userID, newRefreshToken, err := a.refreshTokens.RotateToken(refreshToken, a.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return domain.User{}, "", "", ErrInvalidRefreshToken
		}
		return domain.User{}, "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		_ = a.refreshTokens.DeleteToken(newRefreshToken)
		return domain.User{}, "", "", ErrInvalidRefreshToken
	}
	accessToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		_ = a.refreshTokens.DeleteToken(newRefreshToken)
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	return user, accessToken, newRefreshToken, nil
}

// Logout invalidates the access token and, when given, the refresh token.
func (a *App) Logout(accessToken, refreshToken string) error {
	if err := a.sessions.DeleteSession(accessToken); err != nil {
		return err
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return a.refreshTokens.DeleteToken(refreshToken)
}

// UserFromToken resolves a user from an access token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

func (a *App) issueTokens(userID string) (string, string, error) {
	accessToken, err := a.sessions.NewSession(userID)
	if err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := a.refreshTokens.NewToken(userID, a.refreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

// UploadBook ingests a file into the user's library. Identical content is
// deduplicated by SHA-256 hash: the canonical book is stored once and the
// user gets a library entry pointing at it. The returned flag is true when
// the book was newly added to the user's library.
func (a *App) UploadBook(ctx context.Context, user domain.User, filename string, data []byte) (domain.Book, bool, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	book, known, err := a.store.GetBookByHash(hash)
	if err != nil {
		return domain.Book{}, false, fmt.Errorf("lookup by hash: %w", err)
	}
	if known {
		owned, err := a.store.HasLibraryEntry(user.ID, book.ID)
		if err != nil {
			return domain.Book{}, false, fmt.Errorf("check library entry: %w", err)
		}
		if owned {
			return book, false, nil
		}
	}

	if err := a.checkQuota(user.ID, int64(len(data))); err != nil {
		return domain.Book{}, false, err
	}

	if !known {
		book, err = a.ingestNewBook(ctx, hash, filename, data)
		if err != nil {
			return domain.Book{}, false, err
		}
	}

	if err := a.store.AddLibraryEntry(domain.LibraryEntry{
		ID:      util.NewID(),
		UserID:  user.ID,
		BookID:  book.ID,
		AddedAt: time.Now().UTC(),
	}); err != nil {
		return domain.Book{}, false, fmt.Errorf("add library entry: %w", err)
	}

	a.recordActivity(user.ID, domain.ActionUpload, book)
	return book, true, nil
}

func (a *App) checkQuota(userID string, incoming int64) error {
	usage, err := a.store.UserStorageUsage(userID)
	if err != nil {
		return fmt.Errorf("storage usage: %w", err)
	}
	if usage+incoming > a.maxStorageBytes {
		return ErrStorageQuotaExceeded
	}
	return nil
}

// ingestNewBook extracts metadata and content, writes all blobs under the
// content-addressed prefix, and creates the canonical book row. Blob keys
// derive from the hash, so a concurrent upload of the same file writes
// identical objects and the row insert decides the single winner.
func (a *App) ingestNewBook(ctx context.Context, hash, filename string, data []byte) (domain.Book, error) {
	res, err := ingest.Extract(filename, data)
	if err != nil {
		return domain.Book{}, err
	}

	prefix := objectPrefix(hash)
	bookKey := prefix + "/book." + string(res.Format)
	if err := a.blobs.Put(ctx, bookKey, bytes.NewReader(data), int64(len(data)), formatContentType(res.Format)); err != nil {
		return domain.Book{}, fmt.Errorf("store original: %w", err)
	}

	coverKey := ""
	if res.Cover != nil {
		coverKey = prefix + "/" + res.Cover.Name
		if err := a.blobs.Put(ctx, coverKey, bytes.NewReader(res.Cover.Data), int64(len(res.Cover.Data)), res.Cover.MediaType); err != nil {
			return domain.Book{}, fmt.Errorf("store cover: %w", err)
		}
	}

	now := time.Now().UTC()
	bookID := util.NewID()
	chapters := make([]domain.Chapter, 0, len(res.Chapters))
	for i, ch := range res.Chapters {
		key := fmt.Sprintf("%s/chapters/%04d.html", prefix, i)
		if err := a.blobs.Put(ctx, key, bytes.NewReader(ch.HTML), int64(len(ch.HTML)), "text/html; charset=utf-8"); err != nil {
			return domain.Book{}, fmt.Errorf("store chapter %d: %w", i, err)
		}
		chapters = append(chapters, domain.Chapter{
			ID:        util.NewID(),
			BookID:    bookID,
			Title:     ch.Title,
			Ordinal:   i,
			FileKey:   key,
			SizeBytes: int64(len(ch.HTML)),
		})
	}
	for _, img := range res.Images {
		key := prefix + "/images/" + img.Name
		if err := a.blobs.Put(ctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), img.MediaType); err != nil {
			return domain.Book{}, fmt.Errorf("store image %s: %w", img.Name, err)
		}
	}

	book := domain.Book{
		ID:               bookID,
		ContentHash:      hash,
		Title:            res.Title,
		Author:           res.Author,
		Format:           res.Format,
		OriginalFilename: filename,
		SizeBytes:        int64(len(data)),
		StorageKey:       bookKey,
		CoverKey:         coverKey,
		HasCover:         coverKey != "",
		PageCount:        res.PageCount,
		Extra:            res.Extra,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	winner, _, err := a.store.CreateBook(book, chapters)
	if err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return winner, nil
}

// ListBooks returns the user's library.
func (a *App) ListBooks(userID string) ([]domain.Book, error) {
	return a.store.ListBooksByUser(userID)
}

// GetBook returns a book only when it is in the user's library. Books the
// user does not own are indistinguishable from missing ones.
func (a *App) GetBook(userID, bookID string) (domain.Book, error) {
	owned, err := a.store.HasLibraryEntry(userID, bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("check library entry: %w", err)
	}
	if !owned {
		return domain.Book{}, ErrBookNotFound
	}
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// DeleteBook removes the book from the user's library. When the last owner
// deletes it, the canonical record and its blobs are removed too.
func (a *App) DeleteBook(ctx context.Context, userID, bookID string) error {
	book, err := a.GetBook(userID, bookID)
	if err != nil {
		return err
	}
	if err := a.store.RemoveLibraryEntry(userID, bookID); err != nil {
		return fmt.Errorf("remove library entry: %w", err)
	}
	owners, err := a.store.CountBookOwners(bookID)
	if err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if owners == 0 {
		if err := a.store.DeleteBook(bookID); err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if err := a.blobs.DeletePrefix(ctx, objectPrefix(book.ContentHash)); err != nil {
			return fmt.Errorf("delete blobs: %w", err)
		}
	}
	a.recordActivity(userID, domain.ActionDelete, book)
	return nil
}

// GetProgress returns the user's reading position, zero values when the
// book has never been opened.
func (a *App) GetProgress(userID, bookID string) (domain.ReadingProgress, error) {
	if _, err := a.GetBook(userID, bookID); err != nil {
		return domain.ReadingProgress{}, err
	}
	progress, ok, err := a.store.GetProgress(userID, bookID)
	if err != nil {
		return domain.ReadingProgress{}, fmt.Errorf("fetch progress: %w", err)
	}
	if !ok {
		return domain.ReadingProgress{UserID: userID, BookID: bookID}, nil
	}
	return progress, nil
}

// UpdateProgress stores the reading position, last writer wins.
func (a *App) UpdateProgress(userID, bookID string, chapterIndex int, percent float64) (domain.ReadingProgress, error) {
	if chapterIndex < 0 || percent < 0 || percent > 100 {
		return domain.ReadingProgress{}, ErrInvalidProgress
	}
	if _, err := a.GetBook(userID, bookID); err != nil {
		return domain.ReadingProgress{}, err
	}
	progress := domain.ReadingProgress{
		UserID:          userID,
		BookID:          bookID,
		ChapterIndex:    chapterIndex,
		ProgressPercent: percent,
		LastReadAt:      time.Now().UTC(),
	}
	if err := a.store.UpsertProgress(progress); err != nil {
		return domain.ReadingProgress{}, fmt.Errorf("upsert progress: %w", err)
	}
	return progress, nil
}

// Manifest lists the book's chapters in reading order.
func (a *App) Manifest(userID, bookID string) ([]domain.Chapter, error) {
	if _, err := a.GetBook(userID, bookID); err != nil {
		return nil, err
	}
	return a.store.ListChapters(bookID)
}

// ChapterContent returns one chapter and its stored HTML.
func (a *App) ChapterContent(ctx context.Context, userID, bookID, chapterID string) (domain.Chapter, []byte, error) {
	if _, err := a.GetBook(userID, bookID); err != nil {
		return domain.Chapter{}, nil, err
	}
	chapter, ok, err := a.store.GetChapter(bookID, chapterID)
	if err != nil {
		return domain.Chapter{}, nil, fmt.Errorf("fetch chapter: %w", err)
	}
	if !ok {
		return domain.Chapter{}, nil, ErrChapterNotFound
	}
	rc, err := a.blobs.Get(ctx, chapter.FileKey)
	if err != nil {
		return domain.Chapter{}, nil, fmt.Errorf("open chapter blob: %w", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return domain.Chapter{}, nil, fmt.Errorf("read chapter blob: %w", err)
	}
	return chapter, body, nil
}

// OpenCover streams the book's cover image.
func (a *App) OpenCover(ctx context.Context, userID, bookID string) (io.ReadCloser, string, error) {
	book, err := a.GetBook(userID, bookID)
	if err != nil {
		return nil, "", err
	}
	if book.CoverKey == "" {
		return nil, "", ErrCoverNotFound
	}
	rc, err := a.blobs.Get(ctx, book.CoverKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrCoverNotFound
		}
		return nil, "", fmt.Errorf("open cover blob: %w", err)
	}
	return rc, coverContentType(book.CoverKey), nil
}

// OpenOriginal streams the originally uploaded file and logs the download.
func (a *App) OpenOriginal(ctx context.Context, userID, bookID string) (io.ReadCloser, domain.Book, error) {
	book, err := a.GetBook(userID, bookID)
	if err != nil {
		return nil, domain.Book{}, err
	}
	rc, err := a.blobs.Get(ctx, book.StorageKey)
	if err != nil {
		return nil, domain.Book{}, fmt.Errorf("open original blob: %w", err)
	}
	a.recordActivity(userID, domain.ActionDownload, book)
	return rc, book, nil
}

// OpenImage streams one inline image of an EPUB book.
func (a *App) OpenImage(ctx context.Context, userID, bookID, name string) (io.ReadCloser, string, error) {
	book, err := a.GetBook(userID, bookID)
	if err != nil {
		return nil, "", err
	}
	if strings.ContainsAny(name, "/\\") {
		return nil, "", ErrImageNotFound
	}
	key := objectPrefix(book.ContentHash) + "/images/" + name
	rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrImageNotFound
		}
		return nil, "", fmt.Errorf("open image blob: %w", err)
	}
	return rc, imageContentType(name), nil
}

// Activity returns the user's recent activity log, newest first.
func (a *App) Activity(userID string, limit int) ([]domain.Activity, error) {
	return a.store.ListActivityByUser(userID, limit)
}

func (a *App) recordActivity(userID string, action domain.ActivityAction, book domain.Book) {
	// Activity is best effort; failures never break the main operation.
	_ = a.store.AppendActivity(domain.Activity{
		ID:        util.NewID(),
		UserID:    userID,
		Action:    action,
		BookTitle: book.Title,
		SizeBytes: book.SizeBytes,
		CreatedAt: time.Now().UTC(),
	})
}

func objectPrefix(hash string) string {
	return "objects/" + hash
}

func formatContentType(format domain.BookFormat) string {
	switch format {
	case domain.FormatPDF:
		return "application/pdf"
	default:
		return "application/epub+zip"
	}
}

func coverContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".gif"):
		return "image/gif"
	case strings.HasSuffix(key, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func imageContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".gif"):
		return "image/gif"
	case strings.HasSuffix(name, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(name, ".webp"):
		return "image/webp"
	case strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
