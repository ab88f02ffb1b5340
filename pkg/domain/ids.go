package domain

import (
	"github.com/google/uuid"

	dErrors "vigil/pkg/domain-errors"
)

// Typed UUID identifiers. Distinct types keep a recipient id from being passed
// where a notification id is expected; the compiler enforces the boundary.
type (
	CompanyID      uuid.UUID
	SiteID         uuid.UUID
	UserID         uuid.UUID
	NotificationID uuid.UUID
)

func (id CompanyID) String() string      { return uuid.UUID(id).String() }
func (id SiteID) String() string         { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }

func (id CompanyID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SiteID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id NotificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewNotificationID mints a fresh notification identifier.
func NewNotificationID() NotificationID { return NotificationID(uuid.New()) }

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid uuid")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil uuid")
	}
	return u, nil
}

// ParseCompanyID constructs a CompanyID from external input.
// Errors: CodeInvalidInput when the value is empty, malformed, or nil.
func ParseCompanyID(s string) (CompanyID, error) {
	u, err := parseUUID(s)
	return CompanyID(u), err
}

// ParseSiteID constructs a SiteID from external input.
func ParseSiteID(s string) (SiteID, error) {
	u, err := parseUUID(s)
	return SiteID(u), err
}

// ParseUserID constructs a UserID from external input.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

// ParseNotificationID constructs a NotificationID from external input.
func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s)
	return NotificationID(u), err
}
