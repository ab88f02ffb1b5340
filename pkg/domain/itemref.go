package domain

import (
	"fmt"
	"strings"

	dErrors "vigil/pkg/domain-errors"
)

// MonitoredDomain identifies which detector family owns a monitored item.
// Invariant: the value must be one of the supported domains.
type MonitoredDomain string

const (
	DomainDeadline MonitoredDomain = "deadline"
	DomainReview   MonitoredDomain = "review"
	DomainLicence  MonitoredDomain = "licence"
	DomainTest     MonitoredDomain = "test"
	DomainEvidence MonitoredDomain = "evidence"
)

// validDomains is the single source of truth for monitored domains.
var validDomains = map[MonitoredDomain]bool{
	DomainDeadline: true,
	DomainReview:   true,
	DomainLicence:  true,
	DomainTest:     true,
	DomainEvidence: true,
}

// IsValid checks if the domain is one of the supported enum values.
func (d MonitoredDomain) IsValid() bool { return validDomains[d] }

func (d MonitoredDomain) String() string { return string(d) }

// ParseMonitoredDomain constructs a MonitoredDomain from external input.
// Errors: CodeInvalidInput when the value is empty or unsupported.
func ParseMonitoredDomain(s string) (MonitoredDomain, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "domain cannot be empty")
	}
	d := MonitoredDomain(s)
	if !d.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported domain %q", s)
	}
	return d, nil
}

// Scope narrows queries and recipient resolution to one organizational unit.
// SiteID is optional; a nil SiteID means company-wide scope.
type Scope struct {
	CompanyID CompanyID
	SiteID    SiteID
}

// SiteScoped reports whether the scope names a specific site.
func (s Scope) SiteScoped() bool { return !s.SiteID.IsNil() }

// ItemRef identifies one monitored entity across detection cycles. The string
// form is the dedup key for notifications and the item_ref column in the
// escalation history.
type ItemRef struct {
	Domain   MonitoredDomain
	EntityID string
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%s:%s", r.Domain, r.EntityID)
}

// IsZero reports whether the ref is unset.
func (r ItemRef) IsZero() bool { return r.Domain == "" && r.EntityID == "" }

// ParseItemRef reverses ItemRef.String. Used when hydrating refs from
// persisted notification and history rows.
func ParseItemRef(s string) (ItemRef, error) {
	domainPart, entityID, ok := strings.Cut(s, ":")
	if !ok || entityID == "" {
		return ItemRef{}, dErrors.Newf(dErrors.CodeInvalidInput, "malformed item ref %q", s)
	}
	d, err := ParseMonitoredDomain(domainPart)
	if err != nil {
		return ItemRef{}, err
	}
	return ItemRef{Domain: d, EntityID: entityID}, nil
}
