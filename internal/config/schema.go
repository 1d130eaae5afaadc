package config

import (
	"time"
)

// Output formats.
const (
	FormatText = "txt"
	FormatEPUB = "epub"
)

// Preferred book name fields.
const (
	NameFieldBookName      = "book_name"
	NameFieldOriginal      = "original_book_name"
	NameFieldShort         = "book_short_name"
	NameFieldAskAfterFetch = "ask_after_download"
)

// Config holds quire configuration.
// Stored at: {home}/config.yaml
type Config struct {
	SavePath    string `mapstructure:"save_path" yaml:"save_path" json:"save_path"`
	NovelFormat string `mapstructure:"novel_format" yaml:"novel_format" json:"novel_format"` // "txt" or "epub"
	BulkFiles   bool   `mapstructure:"bulk_files" yaml:"bulk_files" json:"bulk_files"`       // One text file per chapter

	MaxWorkers        int     `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
	RequestTimeout    int     `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"` // Seconds
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	MinWaitTime       int     `mapstructure:"min_wait_time" yaml:"min_wait_time" json:"min_wait_time"` // Milliseconds
	MaxWaitTime       int     `mapstructure:"max_wait_time" yaml:"max_wait_time" json:"max_wait_time"` // Milliseconds
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`

	UseOfficialAPI bool     `mapstructure:"use_official_api" yaml:"use_official_api" json:"use_official_api"`
	OfficialAPIURL string   `mapstructure:"official_api_url" yaml:"official_api_url" json:"official_api_url"`
	APIEndpoints   []string `mapstructure:"api_endpoints" yaml:"api_endpoints" json:"api_endpoints"`

	FirstLineIndentEm      float64 `mapstructure:"first_line_indent_em" yaml:"first_line_indent_em" json:"first_line_indent_em"`
	AllowOverwriteFiles    bool    `mapstructure:"allow_overwrite_files" yaml:"allow_overwrite_files" json:"allow_overwrite_files"`
	PreferredBookNameField string  `mapstructure:"preferred_book_name_field" yaml:"preferred_book_name_field" json:"preferred_book_name_field"`

	Template  TemplateCfg  `mapstructure:"template" yaml:"template" json:"template"`
	Audiobook AudiobookCfg `mapstructure:"audiobook" yaml:"audiobook" json:"audiobook"`
	Server    ServerCfg    `mapstructure:"server" yaml:"server" json:"server"`
}

// TemplateCfg configures per-chapter template rendering.
type TemplateCfg struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// AudiobookCfg configures speech synthesis.
type AudiobookCfg struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	APIURL      string `mapstructure:"api_url" yaml:"api_url" json:"api_url"`       // OpenAI-compatible base URL (empty = api.openai.com)
	APIToken    string `mapstructure:"api_token" yaml:"api_token" json:"api_token"` // Supports ${ENV_VAR} syntax
	Model       string `mapstructure:"model" yaml:"model" json:"model"`
	Voice       string `mapstructure:"voice" yaml:"voice" json:"voice"`
	Rate        string `mapstructure:"rate" yaml:"rate" json:"rate"`       // e.g. "+10%"
	Volume      string `mapstructure:"volume" yaml:"volume" json:"volume"` // e.g. "-5%"
	Pitch       string `mapstructure:"pitch" yaml:"pitch" json:"pitch"`    // e.g. "+2Hz"
	Format      string `mapstructure:"format" yaml:"format" json:"format"` // mp3, wav, opus, aac, flac
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
}

// ServerCfg holds the HTTP listen address.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port string `mapstructure:"port" yaml:"port" json:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NovelFormat:            FormatEPUB,
		MaxWorkers:             1,
		RequestTimeout:         15,
		MaxRetries:             3,
		MinWaitTime:            1000,
		MaxWaitTime:            1200,
		RequestsPerSecond:      2,
		UseOfficialAPI:         true,
		OfficialAPIURL:         "https://api5-normal-sinfonlineb.fqnovel.com",
		APIEndpoints:           []string{},
		FirstLineIndentEm:      2.0,
		PreferredBookNameField: NameFieldBookName,
		Audiobook: AudiobookCfg{
			APIToken:    "${OPENAI_API_KEY}",
			Model:       "gpt-4o-mini-tts",
			Voice:       "alloy",
			Rate:        "+0%",
			Volume:      "+0%",
			Format:      "mp3",
			Concurrency: 24,
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.APIEndpoints = append([]string(nil), c.APIEndpoints...)
	return &out
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// WaitBounds returns the retry wait window.
func (c *Config) WaitBounds() (time.Duration, time.Duration) {
	lo := time.Duration(c.MinWaitTime) * time.Millisecond
	hi := time.Duration(c.MaxWaitTime) * time.Millisecond
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// RetryAfterLimit caps a server-requested retry wait: ten times the upper
// wait bound, but at least one minute.
func (c *Config) RetryAfterLimit() time.Duration {
	_, hi := c.WaitBounds()
	return max(10*hi, time.Minute)
}

// IndentEm returns the paragraph indent, clamped to [0, 8].
func (c *Config) IndentEm() float64 {
	switch {
	case c.FirstLineIndentEm < 0:
		return 0
	case c.FirstLineIndentEm > 8:
		return 8
	default:
		return c.FirstLineIndentEm
	}
}

// ResolvedAudioToken returns the synthesis token with ${ENV_VAR} references expanded.
func (c *Config) ResolvedAudioToken() string {
	return ResolveEnvVars(c.Audiobook.APIToken)
}
