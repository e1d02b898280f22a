package telegram

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tollgate/internal/ingress"
	"github.com/nextlevelbuilder/tollgate/internal/store"
)

// --- buildMediaTagsFromFiles tests ---

func TestBuildMediaTagsFromFiles_NoTranscript(t *testing.T) {
	tests := []struct {
		name  string
		files []ingress.UploadedFile
		want  string
	}{
		{name: "image", files: []ingress.UploadedFile{{FileKind: store.FileImage}}, want: "<media:image>"},
		{name: "video", files: []ingress.UploadedFile{{FileKind: store.FileVideo}}, want: "<media:video>"},
		{name: "audio without transcript", files: []ingress.UploadedFile{{FileKind: store.FileAudio}}, want: "<media:audio>"},
		{name: "voice without transcript", files: []ingress.UploadedFile{{FileKind: store.FileVoice}}, want: "<media:voice>"},
		{name: "document", files: []ingress.UploadedFile{{FileKind: store.FileDocument}}, want: "<media:document>"},
		{name: "empty list", files: []ingress.UploadedFile{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildMediaTagsFromFiles(tt.files)
			if got != tt.want {
				t.Errorf("buildMediaTagsFromFiles(%v) = %q, want %q", tt.files, got, tt.want)
			}
		})
	}
}

func TestBuildMediaTagsFromFiles_VoiceWithTranscript(t *testing.T) {
	files := []ingress.UploadedFile{{FileKind: store.FileVoice, Transcript: "xin chào"}}
	got := buildMediaTagsFromFiles(files)

	if !strings.HasPrefix(got, "<media:voice>") {
		t.Errorf("expected output to start with <media:voice>, got: %q", got)
	}
	if !strings.Contains(got, "<transcript>") || !strings.Contains(got, "</transcript>") {
		t.Errorf("expected <transcript> block, got: %q", got)
	}
	if !strings.Contains(got, "xin chào") {
		t.Errorf("expected transcript text in output, got: %q", got)
	}
}

func TestBuildMediaTagsFromFiles_AudioWithTranscript(t *testing.T) {
	files := []ingress.UploadedFile{{FileKind: store.FileAudio, Transcript: "hello world"}}
	got := buildMediaTagsFromFiles(files)

	if !strings.HasPrefix(got, "<media:audio>") {
		t.Errorf("expected output to start with <media:audio>, got: %q", got)
	}
	if !strings.Contains(got, "<transcript>hello world</transcript>") {
		t.Errorf("expected transcript content, got: %q", got)
	}
}

func TestBuildMediaTagsFromFiles_TranscribeError(t *testing.T) {
	files := []ingress.UploadedFile{{FileKind: store.FileVoice, TranscribeError: true}}
	got := buildMediaTagsFromFiles(files)
	if !strings.Contains(got, "<transcript_error>true</transcript_error>") {
		t.Errorf("expected transcript_error marker, got: %q", got)
	}
}

func TestBuildMediaTagsFromFiles_TranscriptHTMLEscaping(t *testing.T) {
	files := []ingress.UploadedFile{{FileKind: store.FileVoice, Transcript: `<script>alert("xss")</script>`}}
	got := buildMediaTagsFromFiles(files)

	if strings.Contains(got, "<script>") {
		t.Errorf("unescaped <script> tag found in output — XSS risk: %q", got)
	}
	if !strings.Contains(got, "&lt;script&gt;") {
		t.Errorf("expected HTML-escaped content, got: %q", got)
	}
}

func TestBuildMediaTagsFromFiles_MultipleItems(t *testing.T) {
	files := []ingress.UploadedFile{
		{FileKind: store.FileImage},
		{FileKind: store.FileVoice, Transcript: "hey there"},
		{FileKind: store.FileDocument},
	}
	got := buildMediaTagsFromFiles(files)

	if !strings.Contains(got, "<media:image>") {
		t.Errorf("expected image tag, not found in: %q", got)
	}
	if !strings.Contains(got, "<media:voice>") {
		t.Errorf("expected voice tag, not found in: %q", got)
	}
	if !strings.Contains(got, "hey there") {
		t.Errorf("expected transcript text, not found in: %q", got)
	}
	if !strings.Contains(got, "<media:document>") {
		t.Errorf("expected document tag, not found in: %q", got)
	}
}

// --- extractDocumentContent tests ---

func TestExtractDocumentContent_TextFile(t *testing.T) {
	got := extractDocumentContent([]byte("hello world"), "notes.txt")
	if !strings.Contains(got, "hello world") {
		t.Errorf("expected file content inlined, got: %q", got)
	}
	if !strings.Contains(got, `name="notes.txt"`) {
		t.Errorf("expected filename attribute, got: %q", got)
	}
}

func TestExtractDocumentContent_BinaryFile(t *testing.T) {
	got := extractDocumentContent([]byte{0x00, 0x01, 0x02}, "photo.png")
	if !strings.Contains(got, "binary format not supported") {
		t.Errorf("expected binary-format placeholder, got: %q", got)
	}
}

func TestExtractDocumentContent_EscapesContent(t *testing.T) {
	got := extractDocumentContent([]byte("<script>alert(1)</script>"), "snippet.html")
	if strings.Contains(got, "<script>alert(1)</script>") {
		t.Errorf("expected content to be escaped, got: %q", got)
	}
}
