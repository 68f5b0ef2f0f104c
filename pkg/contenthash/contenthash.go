// Package contenthash implements the Dropbox content hash algorithm used
// for file integrity verification.
//
// The input is split into 4 MiB blocks. Each block is hashed with SHA-256,
// the block digests are concatenated in order, and the concatenation is
// hashed with SHA-256 again. The final digest is conventionally rendered
// as lowercase hex.
//
// Reference: https://www.dropbox.com/developers/reference/content-hash
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

const (
	// Size is the length, in bytes, of a content hash digest.
	Size = sha256.Size

	// BlockSize is the input block size of the algorithm, in bytes.
	BlockSize = 4 * 1024 * 1024
)

// digest is the internal state of a content hash computation.
type digest struct {
	block     hash.Hash // SHA-256 of the current (partial) block
	blockLen  int       // bytes written to the current block
	completed [][]byte  // digests of completed blocks, in order
}

// New returns a new hash.Hash computing the Dropbox content hash.
func New() hash.Hash {
	return &digest{block: sha256.New()}
}

func (d *digest) Write(p []byte) (int, error) {
	written := len(p)

	for len(p) > 0 {
		room := BlockSize - d.blockLen
		if room > len(p) {
			room = len(p)
		}

		d.block.Write(p[:room])
		d.blockLen += room
		p = p[room:]

		if d.blockLen == BlockSize {
			d.completed = append(d.completed, d.block.Sum(nil))
			d.block.Reset()
			d.blockLen = 0
		}
	}

	return written, nil
}

// Sum appends the current digest to b and returns the resulting slice.
// It does not change the underlying state, so writes may continue after
// calling Sum.
func (d *digest) Sum(b []byte) []byte {
	outer := sha256.New()

	for _, bd := range d.completed {
		outer.Write(bd)
	}

	// A trailing partial block contributes its digest; an empty input
	// contributes nothing, so the result is SHA-256 of zero bytes.
	if d.blockLen > 0 {
		outer.Write(d.block.Sum(nil))
	}

	return outer.Sum(b)
}

func (d *digest) Reset() {
	d.block.Reset()
	d.blockLen = 0
	d.completed = nil
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }

// Sum256 returns the hex-encoded content hash of data.
func Sum256(data []byte) string {
	h := New()
	h.Write(data) //nolint:errcheck // never fails
	return hex.EncodeToString(h.Sum(nil))
}

// File computes the hex-encoded content hash of the file at fsPath using
// streaming I/O (constant memory).
func File(fsPath string) (string, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", fsPath, err)
	}
	defer f.Close()

	h := New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", fsPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
