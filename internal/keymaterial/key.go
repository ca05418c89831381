// Package keymaterial turns an operator-supplied --secure flag into the AES
// key internal/protocol needs, with no handshake of its own: a shared key is
// assumed to reach both peers out of band.
package keymaterial

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/unixthat/beer-project/internal/protocol"
)

// defaultKeySize is the key length generated when --secure is given with no
// inline hex key: AES-256.
const defaultKeySize = 32

// Resolve turns secure/keyHex (the --secure[=<hex>] flag, or the KEY
// environment variable) into a protocol.Cipher. secure=false returns a nil
// cipher and an empty hex string: encryption stays off. secure=true with an
// empty keyHex generates a fresh key and returns its hex encoding so the
// operator can hand it to the other peer.
func Resolve(secure bool, keyHex string) (*protocol.Cipher, string, error) {
	if !secure {
		return nil, "", nil
	}

	key, err := loadOrGenerate(keyHex)
	if err != nil {
		return nil, "", err
	}
	cipher, err := protocol.NewCipher(key)
	if err != nil {
		return nil, "", err
	}
	return cipher, hex.EncodeToString(key), nil
}

func loadOrGenerate(keyHex string) ([]byte, error) {
	if keyHex == "" {
		return generate()
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: decoding hex key: %w", err)
	}
	if err := validateLength(key); err != nil {
		return nil, err
	}
	return key, nil
}

func generate() ([]byte, error) {
	key := make([]byte, defaultKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keymaterial: generating key: %w", err)
	}
	return key, nil
}

func validateLength(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("keymaterial: key must decode to 16, 24, or 32 bytes (AES-128/192/256), got %d", len(key))
	}
}
