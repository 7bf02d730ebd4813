package secure

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

// shredChunk is the overwrite buffer size.
const shredChunk = 64 * 1024

// Shred overwrites a file with random data before unlinking it, so the
// ciphertext is not recoverable from the free block list. Missing files
// are not an error.
func Shred(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("refusing to shred directory: %s", path)
	}

	if info.Size() > 0 {
		if err := overwrite(path, info.Size()); err != nil {
			return err
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func overwrite(path string, size int64) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open for overwrite: %w", err)
	}
	defer file.Close()

	buf := make([]byte, shredChunk)
	defer Wipe(buf)

	for pass := 0; pass < wipePasses; pass++ {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek: %w", err)
		}

		remaining := size
		for remaining > 0 {
			n := int64(len(buf))
			if remaining < n {
				n = remaining
			}
			if _, err := rand.Read(buf[:n]); err != nil {
				return fmt.Errorf("random fill: %w", err)
			}
			if _, err := file.Write(buf[:n]); err != nil {
				return fmt.Errorf("overwrite pass %d: %w", pass+1, err)
			}
			remaining -= n
		}

		if err := file.Sync(); err != nil {
			return fmt.Errorf("sync pass %d: %w", pass+1, err)
		}
	}

	return nil
}
