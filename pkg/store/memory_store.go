package store

import (
	"sort"
	"sync"

	"epubshelf/pkg/domain"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User // by ID
	books     map[string]domain.Book // by ID
	byHash    map[string]string      // content hash -> book ID
	chapters  map[string][]domain.Chapter
	entries   map[string]domain.LibraryEntry // key: userID + "/" + bookID
	progress  map[string]domain.ReadingProgress
	activity  []domain.Activity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		books:    make(map[string]domain.Book),
		byHash:   make(map[string]string),
		chapters: make(map[string][]domain.Chapter),
		entries:  make(map[string]domain.LibraryEntry),
		progress: make(map[string]domain.ReadingProgress),
	}
}

func pairKey(userID, bookID string) string { return userID + "/" + bookID }

func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) HasUserEmail(email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) CreateBook(b domain.Book, chapters []domain.Chapter) (domain.Book, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byHash[b.ContentHash]; ok {
		return s.books[existingID], false, nil
	}
	s.books[b.ID] = b
	s.byHash[b.ContentHash] = b.ID
	if len(chapters) > 0 {
		cs := make([]domain.Chapter, len(chapters))
		copy(cs, chapters)
		sort.Slice(cs, func(i, j int) bool { return cs[i].Ordinal < cs[j].Ordinal })
		s.chapters[b.ID] = cs
	}
	return b, true, nil
}

func (s *MemoryStore) GetBookByHash(hash string) (domain.Book, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return domain.Book{}, false, nil
	}
	return s.books[id], true, nil
}

func (s *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	return b, ok, nil
}

func (s *MemoryStore) DeleteBook(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.books[id]; ok {
		delete(s.byHash, b.ContentHash)
	}
	delete(s.books, id)
	delete(s.chapters, id)
	for key, p := range s.progress {
		if p.BookID == id {
			delete(s.progress, key)
		}
	}
	return nil
}

func (s *MemoryStore) AddLibraryEntry(entry domain.LibraryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(entry.UserID, entry.BookID)
	if _, ok := s.entries[key]; ok {
		return nil
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) HasLibraryEntry(userID, bookID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[pairKey(userID, bookID)]
	return ok, nil
}

func (s *MemoryStore) RemoveLibraryEntry(userID, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, pairKey(userID, bookID))
	delete(s.progress, pairKey(userID, bookID))
	return nil
}

func (s *MemoryStore) CountBookOwners(bookID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		if e.BookID == bookID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListBooksByUser(userID string) ([]domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owned []domain.LibraryEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			owned = append(owned, e)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].AddedAt.Before(owned[j].AddedAt) })
	books := make([]domain.Book, 0, len(owned))
	for _, e := range owned {
		if b, ok := s.books[e.BookID]; ok {
			books = append(books, b)
		}
	}
	return books, nil
}

func (s *MemoryStore) UserStorageUsage(userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		if b, ok := s.books[e.BookID]; ok {
			total += b.SizeBytes
		}
	}
	return total, nil
}

func (s *MemoryStore) ListChapters(bookID string) ([]domain.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs := s.chapters[bookID]
	out := make([]domain.Chapter, len(cs))
	copy(out, cs)
	return out, nil
}

func (s *MemoryStore) GetChapter(bookID, chapterID string) (domain.Chapter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chapters[bookID] {
		if c.ID == chapterID {
			return c, true, nil
		}
	}
	return domain.Chapter{}, false, nil
}

func (s *MemoryStore) GetProgress(userID, bookID string) (domain.ReadingProgress, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[pairKey(userID, bookID)]
	return p, ok, nil
}

func (s *MemoryStore) UpsertProgress(p domain.ReadingProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[pairKey(p.UserID, p.BookID)] = p
	return nil
}

func (s *MemoryStore) AppendActivity(a domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, a)
	return nil
}

func (s *MemoryStore) ListActivityByUser(userID string, limit int) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var items []domain.Activity
	for i := len(s.activity) - 1; i >= 0 && len(items) < limit; i-- {
		if s.activity[i].UserID == userID {
			items = append(items, s.activity[i])
		}
	}
	return items, nil
}
