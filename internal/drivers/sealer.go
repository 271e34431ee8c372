package drivers

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealMagic     = "RSEAL1"
	sealChunkSize = 64 * 1024
	sealKeySize   = chacha20poly1305.KeySize
)

// ErrSealCorrupt is returned when a sealed stream fails authentication or
// is truncated
var ErrSealCorrupt = errors.New("sealed archive is corrupt or truncated")

// AEADSealer seals archives in fixed-size XChaCha20-Poly1305 frames. Each
// frame nonce is the stream nonce with the frame counter mixed in, and the
// final frame is flagged in the additional data so truncation is detected.
type AEADSealer struct {
	key []byte
}

// NewAEADSealer derives the archive key from a master key with HKDF
func NewAEADSealer(masterKey []byte) (*AEADSealer, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(masterKey))
	}
	key := make([]byte, sealKeySize)
	r := hkdf.New(sha256.New, masterKey, []byte(sealMagic), []byte("backup-archive"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive archive key: %w", err)
	}
	return &AEADSealer{key: key}, nil
}

// NewAEADSealerFromHex decodes a hex master key
func NewAEADSealerFromHex(masterKey string) (*AEADSealer, error) {
	raw, err := hex.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return NewAEADSealer(raw)
}

func frameNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	tail := binary.BigEndian.Uint64(nonce[len(nonce)-8:])
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], tail^counter)
	return nonce
}

func frameAD(counter uint64, final bool) []byte {
	ad := make([]byte, 9)
	binary.BigEndian.PutUint64(ad, counter)
	if final {
		ad[8] = 1
	}
	return ad
}

func (s *AEADSealer) Seal(dst io.Writer) (io.WriteCloser, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	base := make([]byte, aead.NonceSize())
	if _, err := rand.Read(base); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	if _, err := io.WriteString(dst, sealMagic); err != nil {
		return nil, err
	}
	if _, err := dst.Write(base); err != nil {
		return nil, err
	}
	return &sealWriter{dst: dst, aead: aead, base: base, buf: make([]byte, 0, sealChunkSize)}, nil
}

func (s *AEADSealer) Open(src io.Reader) (io.Reader, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	header := make([]byte, len(sealMagic)+aead.NonceSize())
	if _, err := io.ReadFull(src, header); err != nil {
		return nil, ErrSealCorrupt
	}
	if string(header[:len(sealMagic)]) != sealMagic {
		return nil, fmt.Errorf("%w: bad header", ErrSealCorrupt)
	}
	return &sealReader{src: src, aead: aead, base: header[len(sealMagic):]}, nil
}

type sealWriter struct {
	dst     io.Writer
	aead    cipher.AEAD
	base    []byte
	buf     []byte
	counter uint64
	closed  bool
}

func (w *sealWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed sealer")
	}
	written := 0
	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
		// a full buffer is flushed only once more data arrives so the
		// last frame can always be marked final on Close
		if len(w.buf) == cap(w.buf) && len(p) > 0 {
			if err := w.flush(false); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *sealWriter) flush(final bool) error {
	sealed := w.aead.Seal(nil, frameNonce(w.base, w.counter), w.buf, frameAD(w.counter, final))
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(sealed)))
	if _, err := w.dst.Write(size[:]); err != nil {
		return err
	}
	if _, err := w.dst.Write(sealed); err != nil {
		return err
	}
	w.counter++
	w.buf = w.buf[:0]
	return nil
}

func (w *sealWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flush(true)
}

type sealReader struct {
	src     io.Reader
	aead    cipher.AEAD
	base    []byte
	plain   []byte
	counter uint64
	done    bool
}

func (r *sealReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *sealReader) next() error {
	var size [4]byte
	if _, err := io.ReadFull(r.src, size[:]); err != nil {
		return ErrSealCorrupt
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > sealChunkSize+uint32(r.aead.Overhead()) {
		return fmt.Errorf("%w: frame of %d bytes", ErrSealCorrupt, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r.src, frame); err != nil {
		return ErrSealCorrupt
	}
	nonce := frameNonce(r.base, r.counter)
	if plain, err := r.aead.Open(nil, nonce, frame, frameAD(r.counter, false)); err == nil {
		r.plain = plain
		r.counter++
		return nil
	}
	plain, err := r.aead.Open(nil, nonce, frame, frameAD(r.counter, true))
	if err != nil {
		return ErrSealCorrupt
	}
	r.plain = plain
	r.counter++
	r.done = true
	return nil
}
