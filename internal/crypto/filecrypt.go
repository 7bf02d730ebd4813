package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
)

const (
	// FileFormatVersion is the ciphertext file format version.
	FileFormatVersion = 1

	// DefaultStreamThreshold: payloads above this size are chunked
	// instead of sealed in one shot.
	DefaultStreamThreshold = 10 * 1024 * 1024

	// Body modes.
	ModeSingle byte = 1
	ModeStream byte = 2

	// maxWrappedKey bounds the header key field; anything larger is
	// corrupt.
	maxWrappedKey = 4096
)

// fileMagic marks a vault ciphertext file.
var fileMagic = [4]byte{'A', 'R', 'C', 'V'}

// FileHeader is the self-describing prefix of every ciphertext file:
// magic || version || mode || keyLen(4,BE) || wrapped file key. The
// per-file data key is wrapped under the master or owning folder key by
// the caller; the file itself carries everything else needed to open
// it.
type FileHeader struct {
	Version    byte
	Mode       byte
	WrappedKey []byte
}

// WriteFileHeader writes the header to w.
func WriteFileHeader(w io.Writer, h *FileHeader) error {
	if _, err := w.Write(fileMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if _, err := w.Write([]byte{h.Version, h.Mode}); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	var keyLen [4]byte
	binary.BigEndian.PutUint32(keyLen[:], uint32(len(h.WrappedKey)))
	if _, err := w.Write(keyLen[:]); err != nil {
		return fmt.Errorf("write key length: %w", err)
	}
	if _, err := w.Write(h.WrappedKey); err != nil {
		return fmt.Errorf("write wrapped key: %w", err)
	}

	return nil
}

// ReadFileHeader parses the header, leaving r positioned at the body.
// A malformed header reads as corrupt data, not as a distinct
// condition.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	var fixed [6]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, models.ErrDecryptFailed
	}

	if [4]byte(fixed[:4]) != fileMagic {
		return nil, models.ErrDecryptFailed
	}

	h := &FileHeader{Version: fixed[4], Mode: fixed[5]}
	if h.Version != FileFormatVersion {
		return nil, models.ErrDecryptFailed
	}
	if h.Mode != ModeSingle && h.Mode != ModeStream {
		return nil, models.ErrDecryptFailed
	}

	var keyLen [4]byte
	if _, err := io.ReadFull(r, keyLen[:]); err != nil {
		return nil, models.ErrDecryptFailed
	}

	size := binary.BigEndian.Uint32(keyLen[:])
	if size == 0 || size > maxWrappedKey {
		return nil, models.ErrDecryptFailed
	}

	h.WrappedKey = make([]byte, size)
	if _, err := io.ReadFull(r, h.WrappedKey); err != nil {
		return nil, models.ErrDecryptFailed
	}

	return h, nil
}

// ModeForSize picks the body mode by payload size.
func ModeForSize(size, threshold int64) byte {
	if threshold <= 0 {
		threshold = DefaultStreamThreshold
	}
	if size > threshold {
		return ModeStream
	}
	return ModeSingle
}

// EncryptBody seals src into dst using the given mode and returns the
// plaintext SHA-256 and byte count. The hash is computed on the same
// pass as the encryption, so the source is read exactly once.
func EncryptBody(dst io.Writer, src io.Reader, fileKey []byte, mode byte) (string, int64, error) {
	hasher := sha256.New()
	tee := io.TeeReader(src, hasher)

	var written int64
	switch mode {
	case ModeSingle:
		plaintext, err := io.ReadAll(tee)
		if err != nil {
			return "", 0, fmt.Errorf("read source: %w", err)
		}
		defer secure.Wipe(plaintext)

		token, err := Seal(plaintext, fileKey)
		if err != nil {
			return "", 0, err
		}
		if _, err := dst.Write(token); err != nil {
			return "", 0, fmt.Errorf("write body: %w", err)
		}
		written = int64(len(plaintext))

	case ModeStream:
		n, err := SealStream(dst, tee, fileKey)
		if err != nil {
			return "", 0, err
		}
		written = n

	default:
		return "", 0, fmt.Errorf("unknown body mode %d", mode)
	}

	return hex.EncodeToString(hasher.Sum(nil)), written, nil
}

// DecryptBody opens the body written by EncryptBody and returns the
// plaintext SHA-256 and byte count.
func DecryptBody(dst io.Writer, src io.Reader, fileKey []byte, mode byte) (string, int64, error) {
	hasher := sha256.New()
	out := io.MultiWriter(dst, hasher)

	var written int64
	switch mode {
	case ModeSingle:
		token, err := io.ReadAll(src)
		if err != nil {
			return "", 0, models.ErrDecryptFailed
		}

		plaintext, err := Open(token, fileKey)
		if err != nil {
			return "", 0, err
		}

		n, werr := out.Write(plaintext)
		secure.Wipe(plaintext)
		if werr != nil {
			return "", 0, fmt.Errorf("write plaintext: %w", werr)
		}
		written = int64(n)

	case ModeStream:
		n, err := OpenStream(out, src, fileKey)
		if err != nil {
			return "", 0, err
		}
		written = n

	default:
		return "", 0, fmt.Errorf("unknown body mode %d", mode)
	}

	return hex.EncodeToString(hasher.Sum(nil)), written, nil
}
