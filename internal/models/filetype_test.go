package models_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcvault/arcvault/internal/models"
)

func TestDetectKindByExtension(t *testing.T) {
	tests := []struct {
		path string
		want models.FileKind
	}{
		{"photo.jpg", models.KindImage},
		{"photo.JPEG", models.KindImage},
		{"clip.mp4", models.KindVideo},
		{"song.flac", models.KindAudio},
		{"report.pdf", models.KindDocument},
		{"backup.tar", models.KindArchive},
		{"notes.md", models.KindText},
		{"config.yaml", models.KindText},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := models.DetectKind(tt.path, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectKindByContent(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content []byte
		want    models.FileKind
	}{
		{
			name:    "plain text",
			path:    "LICENSE",
			content: []byte("Copyright (c) 2026\nAll rights reserved.\n"),
			want:    models.KindText,
		},
		{
			name:    "null bytes",
			path:    "dump.bin",
			content: []byte{0x7F, 'E', 'L', 'F', 0x00, 0x01, 0x02},
			want:    models.KindBinary,
		},
		{
			name:    "mostly non-printable",
			path:    "blob",
			content: bytes.Repeat([]byte{0x01, 0x02, 'a'}, 100),
			want:    models.KindBinary,
		},
		{
			name:    "empty content",
			path:    "empty",
			content: nil,
			want:    models.KindText,
		},
		{
			name:    "text with tabs and newlines",
			path:    "Makefile.inc",
			content: []byte("all:\n\tgo build ./...\r\n"),
			want:    models.KindText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.DetectKind(tt.path, tt.content)
			assert.Equal(t, tt.want, got)
		})
	}
}
