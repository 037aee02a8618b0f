package versionless

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/marmos91/dittodsu/pkg/fault"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SealedBlobVersion is the first byte of every sealed blob. It is also part
// of the additional authenticated data.
const SealedBlobVersion byte = 0x01

// SealedBlobOverhead is 1 (version) + 24 (nonce) + 16 (tag).
const SealedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var hkdfInfoBlob = []byte("dittodsu.versionless.blob.v1")

// Sealer encrypts whole blobs with XChaCha20-Poly1305.
//
// The AEAD key is derived with HKDF-SHA256 from the identifier's encryption
// key, so identifiers may carry keys of any length. The blob path is bound as
// additional data: a sealed blob copied to another path fails to open.
//
// Layout:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
type Sealer struct {
	key [chacha20poly1305.KeySize]byte
}

// NewSealer derives a sealing key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, fault.New(fault.DataInput, "encryption key must not be empty")
	}
	s := &Sealer{}
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfoBlob), s.key[:]); err != nil {
		return nil, fmt.Errorf("deriving blob key: %w", err)
	}
	return s, nil
}

// Seal encrypts plaintext for storage at path.
func (s *Sealer) Seal(path string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), SealedBlobOverhead+len(plaintext))
	out[0] = SealedBlobVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, buildAAD(SealedBlobVersion, path)), nil
}

// Open decrypts a blob produced by Seal for the same path.
func (s *Sealer) Open(path string, sealed []byte) ([]byte, error) {
	if len(sealed) < SealedBlobOverhead {
		return nil, fault.Newf(fault.DataInput, "sealed blob is %d bytes, minimum is %d", len(sealed), SealedBlobOverhead)
	}
	if sealed[0] != SealedBlobVersion {
		return nil, fault.Newf(fault.DataInput, "sealed blob version %d is not supported", sealed[0])
	}

	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], buildAAD(sealed[0], path))
	if err != nil {
		return nil, fault.Classify(fault.DataInput, err, "failed to open sealed blob (wrong key or tampered data)")
	}
	return plaintext, nil
}

func buildAAD(version byte, path string) []byte {
	aad := make([]byte, 1+len(path))
	aad[0] = version
	copy(aad[1:], path)
	return aad
}
