package keysource

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/credguard/jwt"
)

// ErrInvalidDocument is returned for keyring documents that do not parse.
var ErrInvalidDocument = errors.New("invalid keyring document")

// Document is the on-disk keyring format. Secrets and raw keys are base64;
// Ed25519 keys may also be given as PEM blocks.
//
//	active: k2
//	keys:
//	  - id: k1
//	    method: ed25519
//	    public_key: "-----BEGIN PUBLIC KEY-----..."
//	    retired_at: 2026-03-01T00:00:00Z
//	  - id: k2
//	    method: hs256
//	    secret: c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0LXNlY3JldA==
//
// The same structure in JSON is accepted since JSON is valid YAML.
type Document struct {
	Active string        `yaml:"active" json:"active"`
	Keys   []DocumentKey `yaml:"keys" json:"keys"`
}

type DocumentKey struct {
	ID         string    `yaml:"id" json:"id"`
	Method     string    `yaml:"method" json:"method"`
	Secret     string    `yaml:"secret,omitempty" json:"secret,omitempty"`
	PrivateKey string    `yaml:"private_key,omitempty" json:"private_key,omitempty"`
	PublicKey  string    `yaml:"public_key,omitempty" json:"public_key,omitempty"`
	NotBefore  time.Time `yaml:"not_before,omitempty" json:"not_before,omitempty"`
	RetiredAt  time.Time `yaml:"retired_at,omitempty" json:"retired_at,omitempty"`
}

// Parse decodes a keyring document.
func Parse(data []byte) (string, []jwt.Key, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Active == "" {
		return "", nil, fmt.Errorf("%w: no active key", ErrInvalidDocument)
	}

	keys := make([]jwt.Key, 0, len(doc.Keys))
	for _, dk := range doc.Keys {
		key := jwt.Key{
			ID:        dk.ID,
			Method:    jwt.SigningMethod(strings.ToLower(dk.Method)),
			NotBefore: dk.NotBefore,
			RetiredAt: dk.RetiredAt,
		}
		var err error
		if key.Secret, err = decodeMaterial(dk.Secret); err != nil {
			return "", nil, fmt.Errorf("%w: key %q secret: %v", ErrInvalidDocument, dk.ID, err)
		}
		if key.PrivateKey, err = decodeMaterial(dk.PrivateKey); err != nil {
			return "", nil, fmt.Errorf("%w: key %q private key: %v", ErrInvalidDocument, dk.ID, err)
		}
		if key.PublicKey, err = decodeMaterial(dk.PublicKey); err != nil {
			return "", nil, fmt.Errorf("%w: key %q public key: %v", ErrInvalidDocument, dk.ID, err)
		}
		keys = append(keys, key)
	}
	return doc.Active, keys, nil
}

// LoadFile reads and parses a keyring document from path.
func LoadFile(path string) (string, []jwt.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return Parse(data)
}

// LoadKeyring builds a ready Keyring from path.
func LoadKeyring(path string) (*jwt.Keyring, error) {
	active, keys, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.NewKeyring(active, keys...)
}

func decodeMaterial(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "-----BEGIN") {
		return []byte(v), nil
	}
	return base64.StdEncoding.DecodeString(v)
}
