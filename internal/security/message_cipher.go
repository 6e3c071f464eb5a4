package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"

	"pairchat/internal/domain"
)

// sealedPrefix tags text produced by Seal. The version number changes with
// the envelope layout.
const sealedPrefix = "pc1:"

var (
	// ErrNotSealed is returned by Open for text in no known envelope, such as
	// rows stored before encryption was enabled.
	ErrNotSealed = errors.New("message text is not sealed")
	// ErrUnsealFailed is returned when a sealed text does not authenticate
	// under the current key for its pair.
	ErrUnsealFailed = errors.New("sealed message could not be opened")
)

// MessageCipher seals message text at rest with AES-256-GCM. Each envelope is
// bound to the unordered sender/receiver pair, so a row moved into another
// conversation no longer opens. Fernet tokens written by earlier deployments
// are still opened with the legacy keys.
type MessageCipher struct {
	aead   cipher.AEAD
	legacy []*fernet.Key
}

// NewMessageCipher derives the sealing key from secret. The secret itself and
// each entry in legacyKeys are also tried as fernet keys for old rows.
func NewMessageCipher(secret string, legacyKeys []string) (*MessageCipher, error) {
	if secret == "" {
		return nil, errors.New("message cipher: secret must not be empty")
	}
	sum := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("message cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("message cipher: %w", err)
	}

	c := &MessageCipher{aead: aead}
	for _, raw := range append([]string{secret}, legacyKeys...) {
		if k, err := fernet.DecodeKey(strings.TrimSpace(raw)); err == nil {
			c.legacy = append(c.legacy, k)
		}
	}
	return c, nil
}

// Seal encrypts text for the conversation between a and b.
func (c *MessageCipher) Seal(a, b int64, text string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal message: %w", err)
	}
	box := c.aead.Seal(nonce, nonce, []byte(text), pairLabel(a, b))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(box), nil
}

// Open reverses Seal for the same pair, in either order. Legacy fernet
// tokens are accepted too; anything else yields ErrNotSealed.
func (c *MessageCipher) Open(a, b int64, stored string) (string, error) {
	if body, ok := strings.CutPrefix(stored, sealedPrefix); ok {
		box, err := base64.RawStdEncoding.DecodeString(body)
		if err != nil || len(box) < c.aead.NonceSize() {
			return "", fmt.Errorf("%w: malformed envelope", ErrUnsealFailed)
		}
		n := c.aead.NonceSize()
		plain, err := c.aead.Open(nil, box[:n], box[n:], pairLabel(a, b))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnsealFailed, err)
		}
		return string(plain), nil
	}
	if len(c.legacy) > 0 {
		// ttl 0 disables the expiry check.
		if plain := fernet.VerifyAndDecrypt([]byte(stored), 0, c.legacy); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrNotSealed
}

func pairLabel(a, b int64) []byte {
	lo, hi := domain.PairKey(a, b)
	return fmt.Appendf(nil, "pairchat:%d:%d", lo, hi)
}
