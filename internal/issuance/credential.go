package issuance

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campustix/campustix/internal/domain"
)

// CredentialPayload is the claim set embedded in a ticket's QR code. The
// gate can authenticate it offline; revocation and usage state still come
// from the database.
type CredentialPayload struct {
	TicketNumber   string    `json:"tn"`
	RegistrationID uuid.UUID `json:"rid"`
	EventID        uuid.UUID `json:"eid"`
	BuyerID        uuid.UUID `json:"bid"`
	IssuedAt       time.Time `json:"iat"`
}

// Codec seals credential payloads with AES-256-GCM. The same key is shared
// by issuance and the check-in validator.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec takes the hex-encoded 32-byte credential key.
func NewCodec(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "credential key is not valid hex")
	}
	if len(key) != 32 {
		return nil, errors.Newf("credential key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

func (c *Codec) Encrypt(p CredentialPayload) (string, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt authenticates and opens a presented credential. Any tampering,
// truncation, or wrong-key input comes back as ErrInvalidCredential with no
// further detail.
func (c *Codec) Decrypt(credential string) (CredentialPayload, error) {
	var p CredentialPayload
	sealed, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		return p, domain.ErrInvalidCredential
	}
	if len(sealed) < c.aead.NonceSize() {
		return p, domain.ErrInvalidCredential
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return p, domain.ErrInvalidCredential
	}
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return p, domain.ErrInvalidCredential
	}
	return p, nil
}
