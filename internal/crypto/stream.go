package crypto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
)

// ChunkSize is the plaintext chunk length in streaming mode. Each chunk
// is sealed independently, so memory use stays O(ChunkSize) regardless
// of payload size.
const ChunkSize = 64 * 1024

// maxFrame bounds a sealed chunk frame; anything larger is corrupt.
const maxFrame = ChunkSize + Overhead

// SealStream reads plaintext from src in ChunkSize pieces and writes
// length-prefixed sealed frames to dst. Returns the plaintext byte
// count.
func SealStream(dst io.Writer, src io.Reader, key []byte) (int64, error) {
	if len(key) != KeySize {
		return 0, ErrInvalidKey
	}

	buf := make([]byte, ChunkSize)
	defer secure.Wipe(buf)

	var frameLen [4]byte
	var total int64

	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			token, sealErr := Seal(buf[:n], key)
			if sealErr != nil {
				return total, sealErr
			}

			binary.BigEndian.PutUint32(frameLen[:], uint32(len(token)))
			if _, werr := dst.Write(frameLen[:]); werr != nil {
				return total, fmt.Errorf("write frame length: %w", werr)
			}
			if _, werr := dst.Write(token); werr != nil {
				return total, fmt.Errorf("write frame: %w", werr)
			}

			total += int64(n)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read plaintext: %w", err)
		}
	}
}

// OpenStream reads sealed frames from src and writes the concatenated
// plaintext to dst. Any malformed frame, short read, or failed open
// surfaces as models.ErrDecryptFailed.
func OpenStream(dst io.Writer, src io.Reader, key []byte) (int64, error) {
	if len(key) != KeySize {
		return 0, ErrInvalidKey
	}

	var frameLen [4]byte
	var total int64

	for {
		if _, err := io.ReadFull(src, frameLen[:]); err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, models.ErrDecryptFailed
		}

		size := binary.BigEndian.Uint32(frameLen[:])
		if size == 0 || size > maxFrame {
			return total, models.ErrDecryptFailed
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(src, frame); err != nil {
			return total, models.ErrDecryptFailed
		}

		chunk, err := Open(frame, key)
		if err != nil {
			return total, err
		}

		n, werr := dst.Write(chunk)
		secure.Wipe(chunk)
		if werr != nil {
			return total, fmt.Errorf("write plaintext: %w", werr)
		}
		total += int64(n)
	}
}
