package actionlink

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestLinkVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner([]byte("test-key"), "https://app.example.com/ack", time.Hour)
	require.NoError(t, err)

	ref := domain.ItemRef{Domain: domain.DomainReview, EntityID: "r-1"}
	recipient := domain.UserID(uuid.New())
	now := time.Now()

	link, err := signer.Link(ref, recipient, now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://app.example.com/ack?token="))

	claims, err := signer.Verify(tokenFromLink(t, link))
	require.NoError(t, err)
	assert.Equal(t, ref.String(), claims.ItemRef)
	assert.Equal(t, recipient.String(), claims.RecipientID)
	assert.Equal(t, "vigil", claims.Issuer)
}

func TestVerifyExpiredToken(t *testing.T) {
	signer, err := NewSigner([]byte("test-key"), "https://app.example.com/ack", time.Hour)
	require.NoError(t, err)

	ref := domain.ItemRef{Domain: domain.DomainReview, EntityID: "r-1"}
	link, err := signer.Link(ref, domain.UserID(uuid.New()), time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = signer.Verify(tokenFromLink(t, link))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer, err := NewSigner([]byte("test-key"), "https://app.example.com/ack", time.Hour)
	require.NoError(t, err)

	ref := domain.ItemRef{Domain: domain.DomainReview, EntityID: "r-1"}
	link, err := signer.Link(ref, domain.UserID(uuid.New()), time.Now())
	require.NoError(t, err)

	token := tokenFromLink(t, link)
	tampered := token[:len(token)-4] + "xxxx"

	_, err = signer.Verify(tampered)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer, err := NewSigner([]byte("key-a"), "https://app.example.com/ack", time.Hour)
	require.NoError(t, err)
	verifier, err := NewSigner([]byte("key-b"), "https://app.example.com/ack", time.Hour)
	require.NoError(t, err)

	ref := domain.ItemRef{Domain: domain.DomainReview, EntityID: "r-1"}
	link, err := issuer.Link(ref, domain.UserID(uuid.New()), time.Now())
	require.NoError(t, err)

	_, err = verifier.Verify(tokenFromLink(t, link))
	require.Error(t, err)
}

func TestNewSignerValidation(t *testing.T) {
	_, err := NewSigner(nil, "https://app.example.com/ack", time.Hour)
	require.Error(t, err)

	_, err = NewSigner([]byte("key"), "", time.Hour)
	require.Error(t, err)

	_, err = NewSigner([]byte("key"), "https://app.example.com/ack", 0)
	require.Error(t, err)
}
