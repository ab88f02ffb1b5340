package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vigil/pkg/domain-errors"
)

// IDs must be valid, non-empty, non-nil UUIDs; parsing enforces that at
// trust boundaries.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseUserID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseUserID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseUserID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(validUUID), id)
	})

	t.Run("every parser shares the invariant", func(t *testing.T) {
		_, err := ParseCompanyID("")
		require.Error(t, err)
		_, err = ParseSiteID("not-a-uuid")
		require.Error(t, err)
		_, err = ParseNotificationID(uuid.Nil.String())
		require.Error(t, err)
	})
}

func TestIDStringRoundTrip(t *testing.T) {
	id := NewNotificationID()
	parsed, err := ParseNotificationID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestIsNil(t *testing.T) {
	assert.True(t, UserID(uuid.Nil).IsNil())
	assert.False(t, UserID(uuid.New()).IsNil())
}
