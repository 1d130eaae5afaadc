package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, firstParty bool, endpoints ...string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoints:  endpoints,
		FirstParty: firstParty,
		Timeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestClient_Directory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != directoryPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("bookId") {
		case "7001":
			w.Write([]byte(`{"code":0,"message":"","data":{
				"book_info":{"book_name":"River","original_book_name":"Old River","author":"Lin","abstract":"A story.","tags":"fantasy,long","creation_status":"0","word_number":"120000","thumb_url":"http://img/c.jpg"},
				"item_data_list":[{"item_id":"11","title":"Start"},{"item_id":12,"title":""},{"item_id":"13","title":"End"}]}}`))
		case "7002":
			w.Write([]byte(`{"code":0,"data":{"book_info":{},"item_data_list":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, false, srv.URL)

	t.Run("parses meta and chapters", func(t *testing.T) {
		dir, err := c.Directory(context.Background(), "7001")
		if err != nil {
			t.Fatalf("Directory() error = %v", err)
		}
		if dir.Meta.BookName != "River" || dir.Meta.Author != "Lin" || dir.Meta.BookID != "7001" {
			t.Errorf("unexpected meta: %+v", dir.Meta)
		}
		if !dir.Meta.Finished || dir.Meta.WordCount != 120000 {
			t.Errorf("finished/word count not parsed: %+v", dir.Meta)
		}
		if len(dir.Meta.Tags) != 2 || dir.Meta.Tags[1] != "long" {
			t.Errorf("tags = %v", dir.Meta.Tags)
		}
		if len(dir.Chapters) != 3 {
			t.Fatalf("chapters = %d, want 3", len(dir.Chapters))
		}
		if dir.Chapters[1].ID != "12" || dir.Chapters[1].Index != 2 || dir.Chapters[1].Title == "" {
			t.Errorf("numeric item id not handled: %+v", dir.Chapters[1])
		}
		if dir.Meta.LastChapterTitle != "End" {
			t.Errorf("LastChapterTitle = %q", dir.Meta.LastChapterTitle)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := c.Directory(context.Background(), "7002")
		if !errors.Is(err, ErrEmptyDirectory) {
			t.Errorf("error = %v, want ErrEmptyDirectory", err)
		}
		if !IsPermanent(err) {
			t.Error("empty directory should be permanent")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := c.Directory(context.Background(), "404")
		if !errors.Is(err, ErrBookNotFound) {
			t.Errorf("error = %v, want ErrBookNotFound", err)
		}
	})
}

func TestClient_Batch(t *testing.T) {
	var rawQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery.Store(r.URL.RawQuery)
		w.Write([]byte(`{"code":0,"data":{
			"1":{"title":"One","content":"<header><div>One</div></header><article><p>Hello</p><p>World</p></article>"},
			"2":{"title":"Two","content":""}}}`))
	}))
	defer srv.Close()

	t.Run("first party", func(t *testing.T) {
		c := newTestClient(t, true, srv.URL)
		bodies, err := c.Batch(context.Background(), []string{"1", "2", "3"})
		if err != nil {
			t.Fatalf("Batch() error = %v", err)
		}

		q := rawQuery.Load().(string)
		if !strings.HasPrefix(q, "item_ids=1,2,3&") {
			t.Errorf("item_ids must keep raw commas, got %q", q)
		}
		if !strings.Contains(q, "aid=1967") || !strings.Contains(q, "device_platform=android") {
			t.Errorf("first-party params missing: %q", q)
		}

		if len(bodies) != 1 {
			t.Fatalf("bodies = %d, want 1 (empty and missing dropped)", len(bodies))
		}
		if got := bodies["1"].Content; got != "Hello\nWorld" {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("third party", func(t *testing.T) {
		c := newTestClient(t, false, srv.URL)
		if _, err := c.Batch(context.Background(), []string{"1"}); err != nil {
			t.Fatalf("Batch() error = %v", err)
		}
		if q := rawQuery.Load().(string); q != "item_ids=1" {
			t.Errorf("query = %q", q)
		}
	})

	t.Run("too large", func(t *testing.T) {
		c := newTestClient(t, false, srv.URL)
		ids := make([]string, MaxBatchSize+1)
		for i := range ids {
			ids[i] = "x"
		}
		if _, err := c.Batch(context.Background(), ids); !errors.Is(err, ErrBatchTooLarge) {
			t.Errorf("error = %v, want ErrBatchTooLarge", err)
		}
	})
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		transient bool
		check     func(t *testing.T, err error)
	}{
		{
			name: "429 with retry-after",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			transient: true,
			check: func(t *testing.T, err error) {
				if RetryAfter(err) != 3*time.Second {
					t.Errorf("RetryAfter = %v, want 3s", RetryAfter(err))
				}
			},
		},
		{
			name: "cooldown code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"code":110,"message":"CooldownNotReached"}`))
			},
			transient: true,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			transient: true,
		},
		{
			name: "html error page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>busy</html>`))
			},
			transient: true,
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			transient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newTestClient(t, false, srv.URL)
			_, err := c.Batch(context.Background(), []string{"1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, IsTransient(err), tt.transient)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestClient_RotatesEndpoints(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		w.Write([]byte(`{"code":0,"data":{"1":{"title":"t","content":"c"}}}`))
	}))
	defer good.Close()

	c := newTestClient(t, false, bad.URL, good.URL)

	if _, err := c.Batch(context.Background(), []string{"1"}); !IsTransient(err) {
		t.Fatalf("first call error = %v, want transient", err)
	}
	if _, err := c.Batch(context.Background(), []string{"1"}); err != nil {
		t.Fatalf("second call should hit the next endpoint: %v", err)
	}
	if badHits.Load() != 1 || goodHits.Load() != 1 {
		t.Errorf("hits bad=%d good=%d", badHits.Load(), goodHits.Load())
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoints: []string{srv.URL}, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Batch(context.Background(), []string{"1"})
	if !IsTransient(err) {
		t.Errorf("timeout should be transient, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Batch(ctx, []string{"1"})
	if IsTransient(err) {
		t.Errorf("caller cancellation must not be transient: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Errorf("parseRetryAfter(5) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", got)
	}
}
