package source

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/quire/internal/types"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce      sync.Once
	schemaErr       error
	directorySchema *jsonschema.Schema
	batchSchema     *jsonschema.Schema
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, name := range []string{"directory.schema.json", "batch.schema.json"} {
			data, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemaErr = err
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
				schemaErr = err
				return
			}
		}
		if directorySchema, schemaErr = compiler.Compile("directory.schema.json"); schemaErr != nil {
			return
		}
		batchSchema, schemaErr = compiler.Compile("batch.schema.json")
	})
	return schemaErr
}

// decodeValidated checks raw against schema and then decodes it into out.
func decodeValidated(schema *jsonschema.Schema, raw []byte, out any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type envelope struct {
	Code    flexString `json:"code"`
	Message string     `json:"message"`
}

func (e envelope) ok() bool {
	return e.Code == "" || e.Code == "0"
}

type directoryResponse struct {
	envelope
	Data *struct {
		BookInfo     map[string]any `json:"book_info"`
		ItemDataList []struct {
			ItemID flexString `json:"item_id"`
			Title  string     `json:"title"`
		} `json:"item_data_list"`
	} `json:"data"`
}

type batchResponse struct {
	envelope
	Data map[string]*struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"data"`
}

func (r *directoryResponse) toDirectory(bookID string) *types.Directory {
	dir := &types.Directory{Meta: parseMeta(r.Data.BookInfo)}
	dir.Meta.BookID = bookID
	for i, item := range r.Data.ItemDataList {
		id := strings.TrimSpace(string(item.ItemID))
		if id == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		dir.Chapters = append(dir.Chapters, types.ChapterRef{
			ID:    id,
			Title: title,
			Index: len(dir.Chapters) + 1,
		})
	}
	if dir.Meta.ChapterCount == 0 {
		dir.Meta.ChapterCount = len(dir.Chapters)
	}
	if n := len(dir.Chapters); n > 0 {
		if dir.Meta.FirstChapterTitle == "" {
			dir.Meta.FirstChapterTitle = dir.Chapters[0].Title
		}
		if dir.Meta.LastChapterTitle == "" {
			dir.Meta.LastChapterTitle = dir.Chapters[n-1].Title
		}
	}
	return dir
}

// parseMeta reads book metadata from the loosely typed book_info object.
func parseMeta(info map[string]any) types.BookMeta {
	if info == nil {
		return types.BookMeta{}
	}
	meta := types.BookMeta{
		BookName:          pickString(info, "book_name", "bookName", "name"),
		OriginalBookName:  pickString(info, "original_book_name", "origin_book_name"),
		BookShortName:     pickString(info, "book_short_name", "short_name"),
		Author:            pickString(info, "author", "author_name"),
		Description:       pickString(info, "abstract", "description", "intro"),
		Category:          pickString(info, "category", "category_name"),
		CoverURL:          pickString(info, "thumb_url", "cover_url", "cover", "pic_url"),
		ReadCount:         pickString(info, "read_cnt_text", "read_count"),
		FirstChapterTitle: pickString(info, "first_chapter_title"),
		LastChapterTitle:  pickString(info, "last_chapter_title"),
		Tags:              pickTags(info, "tags", "book_tags", "classify_tags"),
	}
	meta.ChapterCount, _ = strconv.Atoi(pickString(info, "serial_count", "chapter_count"))
	meta.WordCount, _ = strconv.Atoi(pickString(info, "word_number", "word_count"))
	meta.Score, _ = strconv.ParseFloat(pickString(info, "score"), 64)
	// creation_status 0 means the serialization is complete
	if status := pickString(info, "creation_status"); status != "" {
		meta.Finished = status == "0"
	}
	return meta
}

func pickString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func pickTags(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		var out []string
		switch v := m[key].(type) {
		case string:
			for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '，' || r == '|' }) {
				if s := strings.TrimSpace(part); s != "" {
					out = append(out, s)
				}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
