package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackzampolin/quire/internal/types"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := Open(context.Background(), root, types.BookMeta{BookID: "42", BookName: "Night: Road"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, root
}

func TestOpen(t *testing.T) {
	t.Run("creates folder with safe name", func(t *testing.T) {
		s, root := openTestStore(t)
		want := filepath.Join(root, "42_Night：Road")
		if s.Dir() != want {
			t.Errorf("Dir() = %s, want %s", s.Dir(), want)
		}
		st, err := ReadStatus(s.Dir())
		if err != nil {
			t.Fatalf("ReadStatus() error = %v", err)
		}
		if st.Meta.BookName != "Night: Road" {
			t.Errorf("meta not recorded: %+v", st.Meta)
		}
	})

	t.Run("reuses existing folder for the same id", func(t *testing.T) {
		_, root := openTestStore(t)
		s2, err := Open(context.Background(), root, types.BookMeta{BookID: "42", BookName: "Renamed"})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if filepath.Base(s2.Dir()) != "42_Night：Road" {
			t.Errorf("Dir() = %s, want original folder", s2.Dir())
		}
	})
}

func TestSaveChapter(t *testing.T) {
	s, _ := openTestStore(t)
	ch := types.Chapter{ID: "1", Index: 1, Title: "One", Body: "first"}

	written, err := s.SaveChapter(ch, false)
	if err != nil || !written {
		t.Fatalf("SaveChapter() = %v, %v", written, err)
	}

	ch.Body = "changed"
	written, err = s.SaveChapter(ch, false)
	if err != nil || written {
		t.Errorf("second SaveChapter() without overwrite = %v, %v", written, err)
	}
	got, _ := s.LoadChapter("1")
	if got.Body != "first" {
		t.Errorf("body = %q, existing file must be kept", got.Body)
	}

	written, err = s.SaveChapter(ch, true)
	if err != nil || !written {
		t.Fatalf("SaveChapter(overwrite) = %v, %v", written, err)
	}
	got, _ = s.LoadChapter("1")
	if got.Body != "changed" {
		t.Errorf("body = %q, want changed", got.Body)
	}

	if _, err := s.LoadChapter("missing"); !errors.Is(err, ErrChapterNotSaved) {
		t.Errorf("LoadChapter(missing) error = %v", err)
	}
}

func TestSaveChapter_Concurrent(t *testing.T) {
	s, _ := openTestStore(t)
	ch := types.Chapter{ID: "7", Index: 7, Title: "Seven", Body: "body"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	writes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SaveChapter(ch, false)
			if err != nil {
				t.Errorf("SaveChapter() error = %v", err)
			}
			if ok {
				mu.Lock()
				writes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if writes != 1 {
		t.Errorf("writes = %d, want exactly 1", writes)
	}
}

func TestRecord(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	refs := []types.ChapterRef{{ID: "1", Title: "a", Index: 1}, {ID: "2", Title: "b", Index: 2}, {ID: "3", Title: "c", Index: 3}}

	if err := s.RecordSaved(ctx, refs[0]); err != nil {
		t.Fatalf("RecordSaved() error = %v", err)
	}
	if err := s.RecordFailed(ctx, refs, errors.New("timeout")); err != nil {
		t.Fatalf("RecordFailed() error = %v", err)
	}

	st, err := s.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Saved("1") {
		t.Error("a saved chapter must not be downgraded to failed")
	}
	total, failed := st.Counts()
	if total != 3 || failed != 2 {
		t.Errorf("Counts() = %d, %d, want 3, 2", total, failed)
	}
	if ids := st.FailedIDs(); len(ids) != 2 || ids[0] != "2" || ids[1] != "3" {
		t.Errorf("FailedIDs() = %v", ids)
	}
	if st.Downloaded["2"].Error != "timeout" {
		t.Errorf("error not recorded: %+v", st.Downloaded["2"])
	}
}

func TestUpdate_Concurrent(t *testing.T) {
	s, root := openTestStore(t)
	other, err := Open(context.Background(), root, types.BookMeta{BookID: "42"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		store := s
		if i%2 == 1 {
			store = other
		}
		go func(i int, store *Store) {
			defer wg.Done()
			ref := types.ChapterRef{ID: string(rune('a' + i)), Index: i + 1}
			if err := store.RecordSaved(context.Background(), ref); err != nil {
				t.Errorf("RecordSaved() error = %v", err)
			}
		}(i, store)
	}
	wg.Wait()

	st, _ := s.Status()
	if total, _ := st.Counts(); total != 20 {
		t.Errorf("recorded %d entries, want 20 (lost updates)", total)
	}
}

func TestSetIgnoreUpdates(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.SetIgnoreUpdates(context.Background(), true); err != nil {
		t.Fatalf("SetIgnoreUpdates() error = %v", err)
	}
	st, _ := ReadStatus(s.Dir())
	if !st.IgnoreUpdates {
		t.Error("ignore flag not persisted")
	}
}

func TestLegacy(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "99_Old Book")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	legacy := `{"book_name":"Old Book","author":"A","ignore_updates":true,
		"downloaded":{"c1":["First","text one"],"c2":["Second",null],"c3":{"title":"Third","content":"<p>text <b>three</b></p><p>more</p>"}}}`
	if err := os.WriteFile(filepath.Join(dir, "chapter_status_99.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	total, failed := st.Counts()
	if total != 3 || failed != 1 || !st.IgnoreUpdates {
		t.Errorf("legacy counts = %d/%d ignore=%v", total, failed, st.IgnoreUpdates)
	}

	s, err := Open(context.Background(), root, types.BookMeta{BookID: "99"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ch, err := s.LoadChapter("c1")
	if err != nil || ch.Body != "text one" {
		t.Errorf("migrated chapter = %+v, %v", ch, err)
	}
	if ch, err := s.LoadChapter("c3"); err != nil || ch.Body != "text three\nmore" {
		t.Errorf("legacy html body not converted: %+v, %v", ch, err)
	}
	if !s.HasChapter("c3") || s.HasChapter("c2") {
		t.Error("only chapters with content should be migrated")
	}
	st, _ = s.Status()
	if st.Meta.BookName != "Old Book" || !st.IgnoreUpdates {
		t.Errorf("migrated status = %+v", st)
	}
}

func TestReadStatus_None(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "5_Nothing")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadStatus(dir); !errors.Is(err, ErrNoStatus) {
		t.Errorf("ReadStatus() error = %v, want ErrNoStatus", err)
	}
}
