package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
)

// OpenAIConfig holds configuration for the OpenAI speech client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string  // Optional; any OpenAI-compatible speech endpoint
	Model        string  // "gpt-4o-mini-tts" (default), "tts-1", "tts-1-hd"
	Voice        string  // "alloy" (default)
	Speed        float64 // 0.25-4.0
	Instructions string  // Used by instruction-capable models
	Timeout      time.Duration
	HTTPClient   *http.Client // Optional (tests)
}

// OpenAIClient implements Synthesizer using the official OpenAI SDK.
type OpenAIClient struct {
	model        string
	voice        string
	speed        float64
	instructions string
	client       openai.Client
}

// NewOpenAIClient creates a new OpenAI speech client. SDK retries are
// disabled; the generator retries rate-limited chapters itself.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:        cfg.Model,
		voice:        cfg.Voice,
		speed:        cfg.Speed,
		instructions: cfg.Instructions,
		client:       openai.NewClient(opts...),
	}
}

// Synthesize converts text to audio.
func (c *OpenAIClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("text is required")
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.model),
		Voice:          openai.AudioSpeechNewParamsVoice(c.voice),
		ResponseFormat: normalizeFormat(req.Format),
		Speed:          openai.Float(c.speed),
	}
	if c.instructions != "" && supportsInstructions(c.model) {
		params.Instructions = openai.String(c.instructions)
	}

	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	defer resp.Body.Close()

	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading audio response: %w", err)
	}
	if len(audioBytes) == 0 {
		return nil, errors.New("speech API returned no audio")
	}
	return audioBytes, nil
}

func supportsInstructions(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-4o-mini-tts")
}

func normalizeFormat(format string) openai.AudioSpeechNewParamsResponseFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "opus":
		return openai.AudioSpeechNewParamsResponseFormatOpus
	case "aac":
		return openai.AudioSpeechNewParamsResponseFormatAAC
	case "flac":
		return openai.AudioSpeechNewParamsResponseFormatFLAC
	case "wav":
		return openai.AudioSpeechNewParamsResponseFormatWAV
	case "pcm":
		return openai.AudioSpeechNewParamsResponseFormatPCM
	default:
		return openai.AudioSpeechNewParamsResponseFormatMP3
	}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			var retryAfter time.Duration
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("speech API rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("speech API error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("speech API error (status %d)", apiErr.StatusCode)
	}
	return err
}

func parseRetryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var _ Synthesizer = (*OpenAIClient)(nil)
