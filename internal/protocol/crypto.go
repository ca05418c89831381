package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// Cipher encrypts and decrypts frame payloads with AES in CTR mode, per
// spec.md §4.1: a 16-byte nonce built from the frame's 8-byte big-endian
// sequence number followed by 8 zero bytes. CTR is its own inverse, so
// Encrypt and Decrypt are the same transform.
type Cipher struct {
	block cipher.Block
}

// NewCipher builds a Cipher from a 16, 24, or 32-byte key (AES-128/192/256).
func NewCipher(key []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("protocol: AES key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("protocol: building AES cipher: %w", err)
	}
	return &Cipher{block: block}, nil
}

// nonce builds the seq-derived CTR IV: 8 big-endian sequence bytes, then 8
// zero bytes, totalling the AES block size.
func nonce(seq uint32) [aes.BlockSize]byte {
	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[0:8], uint64(seq))
	return iv
}

// Transform applies AES-CTR keyed to seq to src, returning a freshly
// allocated slice. It is used for both directions: encrypting a plaintext
// payload before it is framed, and decrypting a ciphertext payload after its
// CRC has been verified.
func (c *Cipher) Transform(seq uint32, src []byte) []byte {
	iv := nonce(seq)
	stream := cipher.NewCTR(c.block, iv[:])
	dst := make([]byte, len(src))
	stream.XORKeyStream(dst, src)
	return dst
}
