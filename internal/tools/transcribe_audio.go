package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/tollgate/internal/filestore"
)

// TranscribeConfig points at a speech-to-text proxy (a /transcribe_audio
// multipart endpoint). Ingress uses it through Transcribe for inline
// voice/video-note transcription; this tool exposes the same call to the
// model directly.
type TranscribeConfig struct {
	ProxyURL string
	APIKey   string
	Timeout  time.Duration

	// PricePerMinuteUSD bills the transcription service per audio
	// minute. Defaults to 0.006 (roughly Whisper-class proxy pricing).
	PricePerMinuteUSD float64
}

type sttResponse struct {
	Transcript      string  `json:"transcript"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func NewTranscribeAudioTool(files *filestore.Store, cfg TranscribeConfig) *Tool {
	if cfg.PricePerMinuteUSD <= 0 {
		cfg.PricePerMinuteUSD = 0.006
	}

	return &Tool{
		Name:        "transcribe_audio",
		Description: "Transcribe a previously uploaded audio or voice file to text.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_id": map[string]any{"type": "string", "description": "Provider file id of the audio file."},
			},
			"required": []string{"file_id"},
		},
		IsPaid: true,
		Executor: func(ctx context.Context, args map[string]any) *Result {
			if cfg.ProxyURL == "" {
				return ErrorResult("transcription is not configured")
			}
			fileID, _ := args["file_id"].(string)
			if fileID == "" {
				return ErrorResult("file_id is required")
			}
			data, err := files.Download(ctx, fileID)
			if err != nil {
				return ErrorResult("could not load audio %s: %v", fileID, err)
			}

			transcript, sttResp, err := transcribeWithMetadata(ctx, cfg, fileID, data)
			if err != nil {
				return ErrorResult("transcription failed: %v", err)
			}
			r := NewResult(transcript)
			r.CostUSD = (sttResp.DurationSeconds / 60) * cfg.PricePerMinuteUSD
			return r
		},
	}
}

// Transcribe is also called directly by the ingress normalizer for
// synchronous voice/video-note transcription on upload,
// independent of the on-demand transcribe_audio tool invocation above.
func Transcribe(ctx context.Context, cfg TranscribeConfig, filename string, data []byte) (string, error) {
	transcript, _, err := transcribeWithMetadata(ctx, cfg, filename, data)
	return transcript, err
}

func transcribeWithMetadata(ctx context.Context, cfg TranscribeConfig, filename string, data []byte) (string, sttResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", sttResponse{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", sttResponse{}, fmt.Errorf("write audio bytes: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", sttResponse{}, fmt.Errorf("close multipart writer: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.ProxyURL+"/transcribe_audio", &body)
	if err != nil {
		return "", sttResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", sttResponse{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", sttResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", sttResponse{}, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out sttResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", sttResponse{}, fmt.Errorf("parse response: %w", err)
	}
	return out.Transcript, out, nil
}
