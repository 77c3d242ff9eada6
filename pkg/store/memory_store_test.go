package store

import (
	"sync"
	"testing"
	"time"

	"epubshelf/pkg/domain"
)

func testBook(id, hash string) domain.Book {
	return domain.Book{
		ID:               id,
		ContentHash:      hash,
		Title:            "Title " + id,
		Format:           domain.FormatEPUB,
		OriginalFilename: id + ".epub",
		SizeBytes:        100,
		StorageKey:       "objects/" + hash + "/book.epub",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestCreateBookConflictReturnsWinner(t *testing.T) {
	s := NewMemoryStore()

	first, created, err := s.CreateBook(testBook("b1", "hash-a"), nil)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	second, created, err := s.CreateBook(testBook("b2", "hash-a"), nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("duplicate hash reported as created")
	}
	if second.ID != first.ID {
		t.Fatalf("expected winner %q, got %q", first.ID, second.ID)
	}
}

func TestCreateBookConcurrentSameHashSingleWinner(t *testing.T) {
	s := NewMemoryStore()

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	createdCount := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			b := testBook("b"+string(rune('0'+n)), "hash-race")
			_, created, err := s.CreateBook(b, nil)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			createdCount <- created
		}(i)
	}
	wg.Wait()
	close(createdCount)

	wins := 0
	for created := range createdCount {
		if created {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestLibraryEntryOwnershipAndUsage(t *testing.T) {
	s := NewMemoryStore()
	b, _, err := s.CreateBook(testBook("b1", "hash-a"), nil)
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	for _, userID := range []string{"u1", "u2"} {
		err := s.AddLibraryEntry(domain.LibraryEntry{
			ID: userID + "-entry", UserID: userID, BookID: b.ID, AddedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("add entry for %s: %v", userID, err)
		}
	}
	// Duplicate add is a no-op.
	if err := s.AddLibraryEntry(domain.LibraryEntry{ID: "dup", UserID: "u1", BookID: b.ID, AddedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}

	owners, err := s.CountBookOwners(b.ID)
	if err != nil || owners != 2 {
		t.Fatalf("owners=%d err=%v, want 2", owners, err)
	}

	usage, err := s.UserStorageUsage("u1")
	if err != nil || usage != b.SizeBytes {
		t.Fatalf("usage=%d err=%v, want %d", usage, err, b.SizeBytes)
	}

	if err := s.RemoveLibraryEntry("u1", b.ID); err != nil {
		t.Fatalf("remove entry: %v", err)
	}
	owners, _ = s.CountBookOwners(b.ID)
	if owners != 1 {
		t.Fatalf("owners after remove=%d, want 1", owners)
	}
	usage, _ = s.UserStorageUsage("u1")
	if usage != 0 {
		t.Fatalf("usage after remove=%d, want 0", usage)
	}
}

func TestProgressLastWriterWins(t *testing.T) {
	s := NewMemoryStore()

	if _, ok, err := s.GetProgress("u1", "b1"); ok || err != nil {
		t.Fatalf("expected no progress initially: ok=%v err=%v", ok, err)
	}

	writes := []domain.ReadingProgress{
		{UserID: "u1", BookID: "b1", ChapterIndex: 3, ProgressPercent: 30, LastReadAt: time.Now().UTC()},
		{UserID: "u1", BookID: "b1", ChapterIndex: 1, ProgressPercent: 12.5, LastReadAt: time.Now().UTC()},
	}
	for _, w := range writes {
		if err := s.UpsertProgress(w); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, ok, err := s.GetProgress("u1", "b1")
	if err != nil || !ok {
		t.Fatalf("get progress: ok=%v err=%v", ok, err)
	}
	if got.ChapterIndex != 1 || got.ProgressPercent != 12.5 {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}

func TestRemoveLibraryEntryDropsProgress(t *testing.T) {
	s := NewMemoryStore()
	b, _, _ := s.CreateBook(testBook("b1", "hash-a"), nil)
	_ = s.AddLibraryEntry(domain.LibraryEntry{ID: "e1", UserID: "u1", BookID: b.ID, AddedAt: time.Now().UTC()})
	_ = s.UpsertProgress(domain.ReadingProgress{UserID: "u1", BookID: b.ID, ChapterIndex: 2, ProgressPercent: 20, LastReadAt: time.Now().UTC()})

	if err := s.RemoveLibraryEntry("u1", b.ID); err != nil {
		t.Fatalf("remove entry: %v", err)
	}
	if _, ok, _ := s.GetProgress("u1", b.ID); ok {
		t.Fatalf("progress should be gone with the library entry")
	}
}

func TestListChaptersOrderedByOrdinal(t *testing.T) {
	s := NewMemoryStore()
	chapters := []domain.Chapter{
		{ID: "c2", BookID: "b1", Title: "Two", Ordinal: 2, FileKey: "objects/h/chapters/2.html"},
		{ID: "c0", BookID: "b1", Title: "Zero", Ordinal: 0, FileKey: "objects/h/chapters/0.html"},
		{ID: "c1", BookID: "b1", Title: "One", Ordinal: 1, FileKey: "objects/h/chapters/1.html"},
	}
	if _, _, err := s.CreateBook(testBook("b1", "hash-a"), chapters); err != nil {
		t.Fatalf("create book: %v", err)
	}

	got, err := s.ListChapters("b1")
	if err != nil {
		t.Fatalf("list chapters: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(got))
	}
	for i, c := range got {
		if c.Ordinal != i {
			t.Fatalf("chapter %d out of order: ordinal=%d", i, c.Ordinal)
		}
	}

	ch, ok, err := s.GetChapter("b1", "c1")
	if err != nil || !ok || ch.Title != "One" {
		t.Fatalf("get chapter: ok=%v err=%v ch=%+v", ok, err, ch)
	}
	if _, ok, _ := s.GetChapter("other-book", "c1"); ok {
		t.Fatalf("chapter lookup must be scoped to its book")
	}
}

func TestActivityNewestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		err := s.AppendActivity(domain.Activity{
			ID:        newRowID(),
			UserID:    "u1",
			Action:    domain.ActionUpload,
			BookTitle: "Book " + string(rune('A'+i)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	items, err := s.ListActivityByUser("u1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].BookTitle != "Book E" {
		t.Fatalf("expected newest first, got %q", items[0].BookTitle)
	}
}
