package models

import (
	"bytes"
	"path/filepath"
	"strings"
)

// FileKind is a coarse content classification for display purposes.
type FileKind string

const (
	KindImage    FileKind = "image"
	KindVideo    FileKind = "video"
	KindAudio    FileKind = "audio"
	KindDocument FileKind = "document"
	KindArchive  FileKind = "archive"
	KindText     FileKind = "text"
	KindBinary   FileKind = "binary"
)

var kindByExtension = map[string]FileKind{
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".gif": KindImage,
	".bmp": KindImage, ".ico": KindImage, ".tiff": KindImage, ".webp": KindImage,
	".svg": KindImage, ".heic": KindImage,

	".mp4": KindVideo, ".avi": KindVideo, ".mkv": KindVideo, ".mov": KindVideo,
	".wmv": KindVideo, ".webm": KindVideo, ".m4v": KindVideo,

	".mp3": KindAudio, ".wav": KindAudio, ".flac": KindAudio, ".aac": KindAudio,
	".ogg": KindAudio, ".wma": KindAudio, ".m4a": KindAudio,

	".pdf": KindDocument, ".doc": KindDocument, ".docx": KindDocument,
	".xls": KindDocument, ".xlsx": KindDocument, ".ppt": KindDocument,
	".pptx": KindDocument, ".odt": KindDocument, ".ods": KindDocument,
	".odp": KindDocument, ".rtf": KindDocument,

	".zip": KindArchive, ".rar": KindArchive, ".7z": KindArchive,
	".tar": KindArchive, ".gz": KindArchive, ".bz2": KindArchive, ".xz": KindArchive,

	".txt": KindText, ".md": KindText, ".csv": KindText, ".json": KindText,
	".xml": KindText, ".yaml": KindText, ".yml": KindText, ".log": KindText,
	".ini": KindText, ".toml": KindText,
}

// DetectKind classifies a file by extension, falling back to a content
// sniff for unknown extensions.
func DetectKind(path string, content []byte) FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := kindByExtension[ext]; ok {
		return kind
	}

	if looksBinary(content) {
		return KindBinary
	}
	return KindText
}

// looksBinary checks the first 8KB for null bytes and a high
// proportion of non-printable characters.
func looksBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	checkLen := len(content)
	if checkLen > 8192 {
		checkLen = 8192
	}

	if bytes.IndexByte(content[:checkLen], 0) != -1 {
		return true
	}

	nonPrintable := 0
	for i := 0; i < checkLen; i++ {
		b := content[i]
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}

	return float64(nonPrintable)/float64(checkLen) > 0.3
}
