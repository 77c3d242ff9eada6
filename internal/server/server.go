package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"epubshelf/internal/app"
	"epubshelf/internal/ingest"
	"epubshelf/internal/ratelimit"
	"epubshelf/internal/util"
	"epubshelf/pkg/auth"
	"epubshelf/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	TrustedProxies *util.TrustedProxies

	// Rate limits are per client IP per minute. Zero values use defaults;
	// limiters are skipped entirely when RedisAddr is empty.
	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	RefreshRateLimitPerMinute  int
}

// Server exposes the HTTP endpoints of the library backend.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	maxUploadBytes  int64
	trustedProxies  *util.TrustedProxies
	registerLimiter *ratelimit.FixedWindow
	loginLimiter    *ratelimit.FixedWindow
	refreshLimiter  *ratelimit.FixedWindow
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		trustedProxies: cfg.TrustedProxies,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		refreshLimit := cfg.RefreshRateLimitPerMinute
		if refreshLimit <= 0 {
			refreshLimit = 20
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		var err error
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindow, error) {
			return ratelimit.NewFixedWindow(client, "epubshelf:ratelimit:"+name, limit, time.Minute)
		}
		if s.registerLimiter, err = newLimiter("register", registerLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
		if s.refreshLimiter, err = newLimiter("refresh", refreshLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the common middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/docs", s.handleDocs)
	s.mux.HandleFunc("/openapi.json", s.handleOpenAPI)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))

	// library
	s.mux.Handle("/api/books", s.authenticated(s.handleBooks))
	s.mux.HandleFunc("/api/books/", s.handleBookByID)
	s.mux.Handle("/api/activity", s.authenticated(s.handleActivity))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r, false)
		if !ok {
			s.audit(r, "authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// authorize resolves the caller. Asset endpoints additionally accept the
// token as a query parameter so browser-native elements (img tags, download
// links) can authenticate.
func (s *Server) authorize(r *http.Request, allowQueryToken bool) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok && allowQueryToken {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
		ok = token != ""
	}
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "register", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(req.Email, req.Password)
	if err != nil {
		s.audit(r, "register", "fail", "reason", err.Error())
		switch {
		case errors.Is(err, app.ErrEmailAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrEmailAndPasswordRequired),
			errors.Is(err, auth.ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.audit(r, "register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, accessToken, refreshToken, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail")
		if errors.Is(err, app.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, tokenResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "too many refresh attempts") {
		s.audit(r, "refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, accessToken, refreshToken, err := s.app.Refresh(req.RefreshToken)
	if err != nil {
		s.audit(r, "refresh", "fail", "reason", err.Error())
		switch {
		case errors.Is(err, app.ErrInvalidRefreshToken),
			errors.Is(err, app.ErrRefreshTokenRequired):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.audit(r, "refresh", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, tokenResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req refreshRequest
	if r.Body != nil {
		// Body is optional; a refresh token in it is revoked alongside.
		_ = json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req)
	}
	if err := s.app.Logout(token, req.RefreshToken); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// library handlers
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadBook(w, r, user)
	case http.MethodGet:
		books, err := s.app.ListBooks(user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": books,
			"count": len(books),
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large or invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read uploaded file")
		return
	}
	book, added, err := s.app.UploadBook(r.Context(), user, filepath.Base(header.Filename), data)
	if err != nil {
		s.audit(r, "book.upload", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "book.upload", "success", "user_id", user.ID, "book_id", book.ID, "deduplicated", !added)
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, book)
}

// handleBookByID dispatches /api/books/{id} and its subresources. Asset
// subresources accept a query token so reader UIs can reference them from
// plain HTML.
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(rest, "/", 3)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	assetRoute := sub == "download" || sub == "cover" || sub == "content" || sub == "images"

	user, ok := s.authorize(r, assetRoute)
	if !ok {
		s.audit(r, "authorize", "fail")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch sub {
	case "":
		s.handleBook(w, r, user, id)
	case "download":
		s.handleDownload(w, r, user, id)
	case "cover":
		s.handleCover(w, r, user, id)
	case "manifest":
		s.handleManifest(w, r, user, id)
	case "content":
		if len(parts) < 3 || parts[2] == "" {
			http.NotFound(w, r)
			return
		}
		s.handleChapterContent(w, r, user, id, parts[2])
	case "images":
		if len(parts) < 3 || parts[2] == "" {
			http.NotFound(w, r)
			return
		}
		s.handleImage(w, r, user, id, parts[2])
	case "progress":
		s.handleProgress(w, r, user, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(user.ID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), user.ID, id); err != nil {
			s.audit(r, "book.delete", "fail", "reason", err.Error())
			writeAppError(w, err)
			return
		}
		s.audit(r, "book.delete", "success", "user_id", user.ID, "book_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rc, book, err := s.app.OpenOriginal(r.Context(), user.ID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", bookContentType(book.Format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename(book.OriginalFilename)+`"`)
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rc, contentType, err := s.app.OpenCover(r.Context(), user.ID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	chapters, err := s.app.Manifest(user.ID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": chapters,
		"count": len(chapters),
	})
}

func (s *Server) handleChapterContent(w http.ResponseWriter, r *http.Request, user domain.User, id, chapterID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	_, body, err := s.app.ChapterContent(r.Context(), user.ID, id, chapterID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	// Image URLs always carry the caller's token, whichever way it arrived,
	// so plain <img> tags in the rendered chapter can authenticate.
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token, _ = bearerToken(r)
	}
	body = rewriteChapterImageURLs(body, id, token)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, user domain.User, id, name string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rc, contentType, err := s.app.OpenImage(r.Context(), user.ID, id, name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		progress, err := s.app.GetProgress(user.ID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	case http.MethodPut:
		var req progressRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		progress, err := s.app.UpdateProgress(user.ID, id, req.ChapterIndex, req.ProgressPercent)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.Activity(user.ID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindow, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func normalizeMaxBytes(v int64) int64 {
	if v <= 0 {
		return 100 << 20
	}
	return v
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, `"`, "")
	name = strings.ReplaceAll(name, "\r", "")
	name = strings.ReplaceAll(name, "\n", "")
	if name == "" || name == "." {
		return "book"
	}
	return name
}

func bookContentType(format domain.BookFormat) string {
	if format == domain.FormatPDF {
		return "application/pdf"
	}
	return "application/epub+zip"
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrBookNotFound),
		errors.Is(err, app.ErrChapterNotFound),
		errors.Is(err, app.ErrCoverNotFound),
		errors.Is(err, app.ErrImageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrStorageQuotaExceeded):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrMalformedFile),
		errors.Is(err, app.ErrInvalidProgress):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	User         domain.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type progressRequest struct {
	ChapterIndex    int     `json:"chapterIndex"`
	ProgressPercent float64 `json:"progressPercent"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
