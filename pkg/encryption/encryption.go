// Package encryption seals shards at rest.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Method names a shard cipher.
type Method string

const (
	// MethodNone stores shards as plain bytes.
	MethodNone Method = "none"
	// MethodAES256CTR prefixes each shard with a random IV and encrypts the rest with AES-256-CTR.
	MethodAES256CTR Method = "aes-256-ctr"
)

// ErrShortShard is returned when a sealed shard is shorter than its IV.
var ErrShortShard = errors.New("encryption: shard missing IV")

// Options selects the cipher and key applied to shards.
type Options struct {
	Method Method
	Key    []byte
}

// Enabled reports whether shards are sealed.
func (o Options) Enabled() bool {
	return o.Method != "" && o.Method != MethodNone
}

// Validate ensures the key fits the selected method.
func (o Options) Validate() error {
	if !o.Enabled() {
		return nil
	}
	switch o.Method {
	case MethodAES256CTR:
		if len(o.Key) != 32 {
			return fmt.Errorf("encryption: aes-256-ctr requires 32-byte key, got %d", len(o.Key))
		}
	default:
		return fmt.Errorf("encryption: unsupported method %q", o.Method)
	}
	return nil
}

// ParseKey decodes a key given as hex or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("encryption: empty key")
	}
	if key, err := hex.DecodeString(s); err == nil {
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption: key is neither hex nor base64")
	}
	return key, nil
}

// Overhead returns the bytes a method adds in front of the payload.
func Overhead(method Method) int {
	switch method {
	case MethodAES256CTR:
		return aes.BlockSize
	default:
		return 0
	}
}

// WrapWriter returns a writer that seals everything written to it into dst.
// The int64 is the number of header bytes already written to dst.
func WrapWriter(dst io.Writer, opts Options) (io.Writer, int64, error) {
	if err := opts.Validate(); err != nil {
		return nil, 0, err
	}
	if !opts.Enabled() {
		return dst, 0, nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, 0, err
	}
	if _, err := dst.Write(iv); err != nil {
		return nil, 0, err
	}
	stream, err := newCTR(opts.Key, iv)
	if err != nil {
		return nil, 0, err
	}
	return &cipher.StreamWriter{S: stream, W: dst}, int64(len(iv)), nil
}

// WrapReader returns a reader yielding the plain bytes of a sealed shard.
// Closing it closes src.
func WrapReader(src io.ReadCloser, opts Options) (io.ReadCloser, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !opts.Enabled() {
		return src, nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrShortShard
		}
		return nil, err
	}
	stream, err := newCTR(opts.Key, iv)
	if err != nil {
		return nil, err
	}
	return &sealedReader{Reader: &cipher.StreamReader{S: stream, R: src}, src: src}, nil
}

// Encrypt seals data in memory.
func Encrypt(data []byte, opts Options) ([]byte, error) {
	var buf strings.Builder
	w, _, err := WrapWriter(&buf, opts)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// Decrypt reverses Encrypt.
func Decrypt(sealed []byte, opts Options) ([]byte, error) {
	r, err := WrapReader(io.NopCloser(strings.NewReader(string(sealed))), opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type sealedReader struct {
	io.Reader
	src io.Closer
}

func (s *sealedReader) Close() error { return s.src.Close() }

func newCTR(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}
