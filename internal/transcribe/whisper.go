package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions
// endpoint. Alternative to ExecProvider for deployments that run the ASR
// engine as a separate service.
type WhisperClient struct {
	url    string
	client *http.Client
}

// whisperWord is the OpenAI-style word object ("word" field, no score).
type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Segments []Segment     `json:"segments"`
	Words    []whisperWord `json:"words"`
}

// NewWhisperClient creates a new Whisper HTTP client. Request deadlines
// come from the caller's context, not a fixed client timeout, so the same
// client serves both the short single-round and the long batch paths.
func NewWhisperClient(url string) *WhisperClient {
	return &WhisperClient{url: url, client: &http.Client{}}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper-http" }

// Transcribe sends the audio file as multipart/form-data and parses the
// verbose_json response for word-level timestamps.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts Opts) (*Response, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if opts.Model != "" {
		w.WriteField("model", opts.Model)
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	w.WriteField("language", lang)
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "word")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Response{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Segments: result.Segments,
	}
	for _, wd := range result.Words {
		out.Words = append(out.Words, Word{Text: wd.Word, Start: wd.Start, End: wd.End})
	}
	return out, nil
}
