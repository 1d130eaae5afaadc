package endpoints

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/jackzampolin/quire/internal/jobs"
)

func TestParseSets(t *testing.T) {
	got, err := ParseSets([]string{
		"max_workers=4",
		"bulk_files=true",
		"server.port=9090",
		"audiobook.voice=nova",
		"audiobook.rate=+10%",
		"api_endpoints=[https://a.example, https://b.example]",
	})
	if err != nil {
		t.Fatalf("ParseSets() error = %v", err)
	}
	want := map[string]any{
		"max_workers":   4,
		"bulk_files":    true,
		"server":        map[string]any{"port": "9090"},
		"audiobook":     map[string]any{"voice": "nova", "rate": "+10%"},
		"api_endpoints": []any{"https://a.example", "https://b.example"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseSets() = %#v\nwant %#v", got, want)
	}

	for _, bad := range []string{"novalue", "=4", "colour=blue", "max_workers=[1"} {
		if _, err := ParseSets([]string{bad}); err == nil {
			t.Errorf("ParseSets(%q) should fail", bad)
		}
	}
}

func TestWriteJobError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", jobs.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", jobs.ErrInvalid), http.StatusBadRequest},
		{jobs.ErrNotTerminal, http.StatusConflict},
		{jobs.ErrNoPendingChoice, http.StatusConflict},
		{jobs.ErrClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeJobError(rec, tt.err)
		if rec.Code != tt.want {
			t.Errorf("writeJobError(%v) = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestRoutesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, ep := range All() {
		method, path, _ := ep.Route()
		key := method + " " + path
		if seen[key] {
			t.Errorf("duplicate route %s", key)
		}
		seen[key] = true
		if ep.Command(func() string { return "" }) == nil {
			t.Errorf("%s has no command", key)
		}
	}
}
