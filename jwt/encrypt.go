package jwt

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// ErrDecrypt is returned when an encrypted token cannot be opened.
var ErrDecrypt = errors.New("token decryption failed")

// Encrypter wraps signed tokens in compact JWE using direct A256GCM with a
// shared 32-byte key.
type Encrypter struct {
	key []byte
	enc jose.Encrypter
}

func NewEncrypter(key []byte) (*Encrypter, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	k := append([]byte(nil), key...)
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: k},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return nil, err
	}
	return &Encrypter{key: k, enc: enc}, nil
}

// Encrypt seals a compact JWS.
func (e *Encrypter) Encrypt(signed string) (string, error) {
	obj, err := e.enc.Encrypt([]byte(signed))
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

// Decrypt opens a compact JWE and returns the inner JWS.
func (e *Encrypter) Decrypt(encrypted string) (string, error) {
	obj, err := jose.ParseEncrypted(encrypted, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := obj.Decrypt(e.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
