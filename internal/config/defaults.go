package config

import (
	"errors"
	"sort"
)

// Entry describes one configuration key.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

var descriptions = map[string]string{
	"save_path":                 "Root directory for downloaded books (empty = <home>/library)",
	"novel_format":              "Output format: txt or epub",
	"bulk_files":                "Write one text file per chapter instead of one aggregate file",
	"max_workers":               "Concurrent chapter batch requests per job",
	"request_timeout":           "Per-request timeout in seconds",
	"max_retries":               "Retries per batch after a transient failure",
	"min_wait_time":             "Minimum retry wait in milliseconds",
	"max_wait_time":             "Maximum retry wait in milliseconds",
	"requests_per_second":       "Request pacing towards the remote source",
	"use_official_api":          "Use the first-party API instead of api_endpoints",
	"official_api_url":          "Base URL of the first-party API",
	"api_endpoints":             "Third-party API base URLs, rotated on failure",
	"first_line_indent_em":      "Paragraph first-line indent in em",
	"allow_overwrite_files":     "Re-write chapters and audio that already exist",
	"preferred_book_name_field": "book_name, original_book_name, book_short_name or ask_after_download",
	"template.enabled":          "Render chapters through a template file",
	"template.path":             "Path of the chapter template file",
	"audiobook.enabled":         "Synthesize audio for each chapter after download",
	"audiobook.api_url":         "OpenAI-compatible speech API base URL (empty = OpenAI)",
	"audiobook.api_token":       "Speech API token (supports ${ENV_VAR})",
	"audiobook.model":           "Speech model",
	"audiobook.voice":           "Speech voice",
	"audiobook.rate":            "Speech rate adjustment, e.g. +10%",
	"audiobook.volume":          "Speech volume adjustment, e.g. -5%",
	"audiobook.pitch":           "Speech pitch adjustment, e.g. +2Hz",
	"audiobook.format":          "Audio format: mp3, wav, opus, aac or flac",
	"audiobook.concurrency":     "Concurrent synthesis requests",
	"server.host":               "Address the HTTP server binds to",
	"server.port":               "Port the HTTP server listens on",
}

// DefaultEntries returns every recognized key with its default value, sorted by key.
func DefaultEntries() []Entry {
	return Entries(DefaultConfig())
}

// Entries flattens cfg into described key/value pairs, sorted by key.
func Entries(cfg *Config) []Entry {
	values := map[string]any{
		"save_path":                 cfg.SavePath,
		"novel_format":              cfg.NovelFormat,
		"bulk_files":                cfg.BulkFiles,
		"max_workers":               cfg.MaxWorkers,
		"request_timeout":           cfg.RequestTimeout,
		"max_retries":               cfg.MaxRetries,
		"min_wait_time":             cfg.MinWaitTime,
		"max_wait_time":             cfg.MaxWaitTime,
		"requests_per_second":       cfg.RequestsPerSecond,
		"use_official_api":          cfg.UseOfficialAPI,
		"official_api_url":          cfg.OfficialAPIURL,
		"api_endpoints":             cfg.APIEndpoints,
		"first_line_indent_em":      cfg.FirstLineIndentEm,
		"allow_overwrite_files":     cfg.AllowOverwriteFiles,
		"preferred_book_name_field": cfg.PreferredBookNameField,
		"template.enabled":          cfg.Template.Enabled,
		"template.path":             cfg.Template.Path,
		"audiobook.enabled":         cfg.Audiobook.Enabled,
		"audiobook.api_url":         cfg.Audiobook.APIURL,
		"audiobook.api_token":       cfg.Audiobook.APIToken,
		"audiobook.model":           cfg.Audiobook.Model,
		"audiobook.voice":           cfg.Audiobook.Voice,
		"audiobook.rate":            cfg.Audiobook.Rate,
		"audiobook.volume":          cfg.Audiobook.Volume,
		"audiobook.pitch":           cfg.Audiobook.Pitch,
		"audiobook.format":          cfg.Audiobook.Format,
		"audiobook.concurrency":     cfg.Audiobook.Concurrency,
		"server.host":               cfg.Server.Host,
		"server.port":               cfg.Server.Port,
	}

	entries := make([]Entry, 0, len(values))
	for key, value := range values {
		entries = append(entries, Entry{Key: key, Value: value, Description: descriptions[key]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// GetDefault returns the default entry for a key, or nil if the key is not recognized.
func GetDefault(key string) *Entry {
	for _, e := range DefaultEntries() {
		if e.Key == key {
			return &e
		}
	}
	return nil
}

// ErrUnknownKey is returned for keys outside the recognized set.
var ErrUnknownKey = errors.New("unknown config key")
