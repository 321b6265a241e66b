package issuance

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campustix/campustix/internal/domain"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(testKey)
	require.NoError(t, err)

	payload := CredentialPayload{
		TicketNumber:   "TIX-20260301-AB12CD34EF",
		RegistrationID: uuid.New(),
		EventID:        uuid.New(),
		BuyerID:        uuid.New(),
		IssuedAt:       time.Now().UTC().Truncate(time.Second),
	}

	credential, err := codec.Encrypt(payload)
	require.NoError(t, err)
	require.NotContains(t, credential, payload.TicketNumber)

	decoded, err := codec.Decrypt(credential)
	require.NoError(t, err)
	require.Equal(t, payload.TicketNumber, decoded.TicketNumber)
	require.Equal(t, payload.RegistrationID, decoded.RegistrationID)
	require.Equal(t, payload.EventID, decoded.EventID)
	require.True(t, payload.IssuedAt.Equal(decoded.IssuedAt))
}

func TestCodecEncryptIsNondeterministic(t *testing.T) {
	codec, err := NewCodec(testKey)
	require.NoError(t, err)

	payload := CredentialPayload{TicketNumber: "TIX-20260301-AA", RegistrationID: uuid.New()}
	a, err := codec.Encrypt(payload)
	require.NoError(t, err)
	b, err := codec.Encrypt(payload)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCodecRejectsTamperedCredential(t *testing.T) {
	codec, err := NewCodec(testKey)
	require.NoError(t, err)

	credential, err := codec.Encrypt(CredentialPayload{
		TicketNumber:   "TIX-20260301-AB12CD34EF",
		RegistrationID: uuid.New(),
	})
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(credential)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	_, err = codec.Decrypt(tampered)
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(testKey)
	require.NoError(t, err)

	for _, input := range []string{"", "not-base64!!!", "c2hvcnQ", strings.Repeat("A", 300)} {
		_, err := codec.Decrypt(input)
		require.ErrorIs(t, err, domain.ErrInvalidCredential, "input %q", input)
	}
}

func TestCodecRejectsWrongKey(t *testing.T) {
	codec, err := NewCodec(testKey)
	require.NoError(t, err)
	other, err := NewCodec(strings.Repeat("ab", 32))
	require.NoError(t, err)

	credential, err := codec.Encrypt(CredentialPayload{TicketNumber: "TIX-20260301-AA"})
	require.NoError(t, err)

	_, err = other.Decrypt(credential)
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "abcd", "zz" + testKey[2:], testKey + "00"} {
		_, err := NewCodec(key)
		require.Error(t, err, "key %q", key)
	}
}
