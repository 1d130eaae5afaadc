package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

// ReadStatus reads the status record of a book folder. When the current
// record is absent the legacy chapter_status_<id>.json at the folder root is
// read instead.
func ReadStatus(dir string) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(home.StateDir(dir), StatusFileName))
	if err == nil {
		var st Status
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("failed to decode status: %w", err)
		}
		if st.Downloaded == nil {
			st.Downloaded = make(map[string]Entry)
		}
		return &st, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	legacy, _, err := readLegacy(dir)
	if err != nil {
		return nil, err
	}
	return legacy, nil
}

// legacyStatus is the older single-file layout where downloaded maps a
// chapter id to [title, content-or-null] or {title, content}.
type legacyStatus struct {
	BookID        string                     `json:"book_id"`
	BookName      string                     `json:"book_name"`
	Author        string                     `json:"author"`
	Tags          []string                   `json:"tags"`
	Description   string                     `json:"description"`
	Downloaded    map[string]json.RawMessage `json:"downloaded"`
	IgnoreUpdates bool                       `json:"ignore_updates"`
}

// readLegacy parses the legacy record, also returning the chapter bodies it embeds.
func readLegacy(dir string) (*Status, map[string]types.Chapter, error) {
	bookID, _, ok := home.ParseBookDirName(filepath.Base(dir))
	if !ok {
		return nil, nil, ErrNoStatus
	}
	data, err := os.ReadFile(filepath.Join(dir, "chapter_status_"+bookID+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNoStatus
		}
		return nil, nil, fmt.Errorf("failed to read legacy status: %w", err)
	}

	var old legacyStatus
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, nil, fmt.Errorf("failed to decode legacy status: %w", err)
	}

	st := newStatus(types.BookMeta{
		BookID:      bookID,
		BookName:    old.BookName,
		Author:      old.Author,
		Tags:        old.Tags,
		Description: old.Description,
	})
	st.IgnoreUpdates = old.IgnoreUpdates
	bodies := make(map[string]types.Chapter)

	for id, raw := range old.Downloaded {
		title, content := decodeLegacyEntry(raw)
		ok := content != nil && *content != ""
		st.Downloaded[id] = Entry{Title: title, OK: ok}
		if ok {
			bodies[id] = types.Chapter{ID: id, Title: title, Body: source.ToText(*content), Outcome: types.OutcomeFetched}
		}
	}
	return st, bodies, nil
}

func decodeLegacyEntry(raw json.RawMessage) (string, *string) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil {
		var title string
		var content *string
		if len(pair) > 0 {
			_ = json.Unmarshal(pair[0], &title)
		}
		if len(pair) > 1 {
			_ = json.Unmarshal(pair[1], &content)
		}
		return title, content
	}
	var obj struct {
		Title   string  `json:"title"`
		Content *string `json:"content"`
		Text    *string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", nil
	}
	if obj.Content == nil {
		obj.Content = obj.Text
	}
	return obj.Title, obj.Content
}

// MigrateLegacy converts a legacy record into chapter files plus status.json.
// It is a no-op when status.json exists or no legacy record is present.
func (s *Store) MigrateLegacy() (int, error) {
	if _, err := os.Stat(s.statusPath()); err == nil {
		return 0, nil
	}
	st, bodies, err := readLegacy(s.dir)
	if errors.Is(err, ErrNoStatus) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for _, ch := range bodies {
		if _, err := s.SaveChapter(ch, false); err != nil {
			return 0, err
		}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := writeAtomic(s.statusPath(), data); err != nil {
		return 0, err
	}
	return len(bodies), nil
}
