package detect

import (
	"context"
	"fmt"
	"time"

	recordports "vigil/internal/records/ports"
	"vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// expirySource enumerates one expiring-record family as (ref, title, date)
// tuples so licences and periodic tests share a single detector.
type expirySource func(ctx context.Context, scope domain.Scope, horizon time.Time) ([]expiringItem, error)

type expiringItem struct {
	ref    domain.ItemRef
	scope  domain.Scope
	title  string
	expiry time.Time
}

// ExpiryDetector covers licences and periodic tests with tiered look-ahead
// windows, commonly [90,60,30,14,7].
type ExpiryDetector struct {
	dom     domain.MonitoredDomain
	source  expirySource
	windows []window
	horizon int
}

// NewLicenceExpiryDetector builds the licence variant.
func NewLicenceExpiryDetector(store recordports.LicenceStore, tierDays []int) *ExpiryDetector {
	source := func(ctx context.Context, scope domain.Scope, horizon time.Time) ([]expiringItem, error) {
		rows, err := store.ExpiringBy(ctx, scope, horizon)
		if err != nil {
			return nil, err
		}
		out := make([]expiringItem, 0, len(rows))
		for _, l := range rows {
			out = append(out, expiringItem{ref: l.Ref(), scope: l.Scope, title: l.Title, expiry: l.ExpiryDate})
		}
		return out, nil
	}
	return newExpiryDetector(domain.DomainLicence, source, tierDays)
}

// NewTestExpiryDetector builds the periodic-test variant.
func NewTestExpiryDetector(store recordports.TestStore, tierDays []int) *ExpiryDetector {
	source := func(ctx context.Context, scope domain.Scope, horizon time.Time) ([]expiringItem, error) {
		rows, err := store.DueBy(ctx, scope, horizon)
		if err != nil {
			return nil, err
		}
		out := make([]expiringItem, 0, len(rows))
		for _, t := range rows {
			out = append(out, expiringItem{ref: t.Ref(), scope: t.Scope, title: t.Title, expiry: t.DueDate})
		}
		return out, nil
	}
	return newExpiryDetector(domain.DomainTest, source, tierDays)
}

func newExpiryDetector(dom domain.MonitoredDomain, source expirySource, tierDays []int) *ExpiryDetector {
	horizon := 0
	for _, d := range tierDays {
		if d > horizon {
			horizon = d
		}
	}
	return &ExpiryDetector{dom: dom, source: source, windows: ladder(tierDays), horizon: horizon}
}

func (d *ExpiryDetector) Domain() domain.MonitoredDomain { return d.dom }

func (d *ExpiryDetector) Detect(ctx context.Context, scope domain.Scope) ([]Candidate, error) {
	now := requestcontext.Now(ctx)
	items, err := d.source(ctx, scope, now.AddDate(0, 0, d.horizon))
	if err != nil {
		return nil, fmt.Errorf("list expiring %s items: %w", d.dom, err)
	}

	var out []Candidate
	for _, item := range items {
		sev, ok := classify(d.windows, now, item.expiry)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Ref:           item.ref,
			Scope:         item.scope,
			Title:         item.title,
			ReferenceTime: item.expiry,
			Severity:      sev,
		})
	}
	return out, nil
}
