package telegram

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/tollgate/internal/ingress"
	"github.com/nextlevelbuilder/tollgate/internal/store"
)

const (
	// defaultMediaMaxBytes caps an in-memory download before ingress gets a
	// chance to apply the user's real (possibly premium) limit.
	defaultMediaMaxBytes int64 = 2 * 1024 * 1024 * 1024

	downloadMaxRetries = 3
	docMaxChars        = 200_000
)

// MediaInfo is one piece of media downloaded from a Telegram message,
// already in memory and ready for ingress.Normalize.
type MediaInfo struct {
	Type     string // "image", "video", "video_note", "audio", "voice", "document", "animation"
	Data     []byte
	FileID   string
	Mime     string
	FileName string
}

// resolveMedia downloads every media item on a message into memory.
func (c *Channel) resolveMedia(ctx context.Context, msg *telego.Message) []MediaInfo {
	var results []MediaInfo
	maxBytes := c.cfg.MediaMaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMediaMaxBytes
	}

	add := func(mediaType, fileID, mime, fileName string) {
		data, err := c.downloadMedia(ctx, fileID, maxBytes)
		if err != nil {
			slog.Warn("telegram: media download failed", "type", mediaType, "file_id", fileID, "error", err)
			return
		}
		results = append(results, MediaInfo{Type: mediaType, Data: data, FileID: fileID, Mime: mime, FileName: fileName})
	}

	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		add("image", photo.FileID, "image/jpeg", "")
	}
	if msg.Video != nil {
		add("video", msg.Video.FileID, msg.Video.MimeType, msg.Video.FileName)
	}
	if msg.VideoNote != nil {
		add("video_note", msg.VideoNote.FileID, "video/mp4", "")
	}
	if msg.Animation != nil {
		add("animation", msg.Animation.FileID, msg.Animation.MimeType, msg.Animation.FileName)
	}
	if msg.Audio != nil {
		add("audio", msg.Audio.FileID, msg.Audio.MimeType, msg.Audio.FileName)
	}
	if msg.Voice != nil {
		add("voice", msg.Voice.FileID, msg.Voice.MimeType, "")
	}
	if msg.Document != nil {
		add("document", msg.Document.FileID, msg.Document.MimeType, msg.Document.FileName)
	}

	return results
}

// downloadMedia resolves a Telegram file_id to bytes, retrying the
// GetFile call with a short backoff.
func (c *Channel) downloadMedia(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.Token, file.FilePath)
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file exceeds max size during download: %d bytes", len(data))
	}
	return data, nil
}

// toFileKind maps a MediaInfo.Type to the store's FileKind enum.
func toFileKind(mediaType string) store.FileKind {
	switch mediaType {
	case "image":
		return store.FileImage
	case "video", "video_note", "animation":
		return store.FileVideo
	case "audio":
		return store.FileAudio
	case "voice":
		return store.FileVoice
	default:
		return store.FileDocument
	}
}

// toRawMedia converts downloaded media into ingress.RawMedia, marking
// voice/video-note items for synchronous transcription.
func toRawMedia(items []MediaInfo) []ingress.RawMedia {
	var out []ingress.RawMedia
	for _, m := range items {
		out = append(out, ingress.RawMedia{
			Kind:           toFileKind(m.Type),
			Filename:       m.FileName,
			Mime:           m.Mime,
			Data:           m.Data,
			TranscribeSync: m.Type == "voice" || m.Type == "video_note",
		})
	}
	return out
}

// buildMediaTagsFromFiles renders the <media:*> placeholder block from
// ingress's post-transcription file list, embedding the transcript inline
// for audio/voice so the model sees it without a second round trip.
func buildMediaTagsFromFiles(files []ingress.UploadedFile) string {
	var tags []string
	for _, f := range files {
		switch f.FileKind {
		case store.FileImage:
			tags = append(tags, "<media:image>")
		case store.FileVideo:
			tags = append(tags, "<media:video>")
		case store.FileAudio:
			tags = append(tags, mediaAudioTag("audio", f))
		case store.FileVoice:
			tags = append(tags, mediaAudioTag("voice", f))
		case store.FileDocument:
			tags = append(tags, "<media:document>")
		}
	}
	return strings.Join(tags, "\n")
}

func mediaAudioTag(kind string, f ingress.UploadedFile) string {
	if f.Transcript != "" {
		return fmt.Sprintf("<media:%s>\n<transcript>%s</transcript>", kind, html.EscapeString(f.Transcript))
	}
	if f.TranscribeError {
		return fmt.Sprintf("<media:%s>\n<transcript_error>true</transcript_error>", kind)
	}
	return fmt.Sprintf("<media:%s>", kind)
}

// textExtensions maps file extensions to MIME types for text files whose
// content can be inlined directly into the turn.
var textExtensions = map[string]string{
	".txt": "text/plain", ".md": "text/markdown", ".csv": "text/csv",
	".tsv": "text/tab-separated-values", ".json": "application/json",
	".yaml": "text/yaml", ".yml": "text/yaml", ".xml": "text/xml",
	".log": "text/plain", ".ini": "text/plain", ".cfg": "text/plain",
	".env": "text/plain", ".sh": "text/x-shellscript", ".py": "text/x-python",
	".go": "text/x-go", ".js": "text/javascript", ".ts": "text/typescript",
	".html": "text/html", ".css": "text/css", ".sql": "text/x-sql",
	".rs": "text/x-rust", ".java": "text/x-java", ".c": "text/x-c",
	".cpp": "text/x-c++", ".h": "text/x-c", ".rb": "text/x-ruby",
	".php": "text/x-php", ".toml": "text/x-toml",
}

// extractDocumentContent inlines a text document's content (truncated at
// docMaxChars) into an XML-escaped <file> block; binary formats get a
// placeholder instead of being dumped into the prompt.
func extractDocumentContent(data []byte, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	mime, isText := textExtensions[ext]
	if !isText {
		return fmt.Sprintf("[File: %s — binary format not supported, only text files can be processed]", fileName)
	}

	content := string(data)
	if len(content) > docMaxChars {
		content = content[:docMaxChars] + "\n... [truncated]"
	}
	return fmt.Sprintf("<file name=%q mime=%q>\n%s\n</file>", fileName, mime, html.EscapeString(content))
}
