package detect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	recordmodels "vigil/internal/records/models"
	recordstore "vigil/internal/records/store"
	"vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	windows := ladder([]int{7, 3, 1})

	tests := []struct {
		name    string
		due     time.Time
		wantSev domain.Severity
		wantHit bool
	}{
		{"overdue is critical", now.Add(-time.Hour), domain.SeverityCritical, true},
		{"inside one day is high", now.Add(20 * time.Hour), domain.SeverityHigh, true},
		{"inside three days is medium", now.Add(60 * time.Hour), domain.SeverityMedium, true},
		{"inside seven days is low", now.AddDate(0, 0, 6), domain.SeverityLow, true},
		{"exactly seven days matches the widest window", now.AddDate(0, 0, 7), domain.SeverityLow, true},
		{"beyond every window does not match", now.AddDate(0, 0, 8), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, hit := classify(windows, now, tt.due)
			require.Equal(t, tt.wantHit, hit)
			if hit {
				require.Equal(t, tt.wantSev, sev)
			}
		})
	}
}

type DetectorSuite struct {
	suite.Suite
	now     time.Time
	ctx     context.Context
	records *recordstore.Memory
	scope   domain.Scope
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorSuite))
}

func (s *DetectorSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.records = recordstore.NewMemory()
	s.scope = domain.Scope{CompanyID: domain.CompanyID(uuid.New())}
}

func (s *DetectorSuite) TestDeadlineDetector() {
	s.records.PutDeadline(recordmodels.Deadline{
		ID: "d-7", Scope: s.scope, Title: "Annual report",
		DueDate: s.now.AddDate(0, 0, 7), Status: recordmodels.DeadlinePending,
	})
	s.records.PutDeadline(recordmodels.Deadline{
		ID: "d-overdue", Scope: s.scope, Title: "Emission filing",
		DueDate: s.now.AddDate(0, 0, -1), Status: recordmodels.DeadlinePending,
	})
	s.records.PutDeadline(recordmodels.Deadline{
		ID: "d-far", Scope: s.scope, Title: "Next year audit",
		DueDate: s.now.AddDate(0, 0, 60), Status: recordmodels.DeadlinePending,
	})
	s.records.PutDeadline(recordmodels.Deadline{
		ID: "d-done", Scope: s.scope, Title: "Completed filing",
		DueDate: s.now.AddDate(0, 0, 2), Status: recordmodels.DeadlineCompleted,
	})

	d := NewDeadlineDetector(s.records, []int{7, 3, 1})
	candidates, err := d.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Require().Len(candidates, 2)

	bySeverity := map[string]domain.Severity{}
	for _, c := range candidates {
		bySeverity[c.Ref.EntityID] = c.Severity
	}
	s.Equal(domain.SeverityLow, bySeverity["d-7"])
	s.Equal(domain.SeverityCritical, bySeverity["d-overdue"])

	// Detection is idempotent: a second pass in the same state returns the
	// same candidates.
	again, err := d.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Len(again, 2)
}

func (s *DetectorSuite) TestReviewDetectorCrossesThreshold() {
	thresholds := []float64{48, 96, 168}

	s.records.PutReviewItem(recordmodels.ReviewItem{
		ID: "r-young", Scope: s.scope, Title: "Young review",
		CreatedAt: s.now.Add(-10 * time.Hour),
	})
	s.records.PutReviewItem(recordmodels.ReviewItem{
		ID: "r-49h", Scope: s.scope, Title: "Two day backlog",
		CreatedAt: s.now.Add(-49 * time.Hour),
	})
	s.records.PutReviewItem(recordmodels.ReviewItem{
		ID: "r-already-1", Scope: s.scope, Title: "Already escalated",
		CreatedAt: s.now.Add(-50 * time.Hour), EscalationLevel: domain.LevelOne,
	})
	s.records.PutReviewItem(recordmodels.ReviewItem{
		ID: "r-100h-at-1", Scope: s.scope, Title: "Needs level two",
		CreatedAt: s.now.Add(-100 * time.Hour), EscalationLevel: domain.LevelOne,
	})

	d := NewReviewDetector(s.records, thresholds)
	candidates, err := d.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Require().Len(candidates, 2)

	byID := map[string]Candidate{}
	for _, c := range candidates {
		byID[c.Ref.EntityID] = c
	}
	s.InDelta(49, byID["r-49h"].HoursPending, 0.01)
	s.Equal(domain.LevelNone, byID["r-49h"].CurrentLevel)
	s.Equal(domain.LevelOne, byID["r-100h-at-1"].CurrentLevel)
	s.Equal(domain.SeverityHigh, byID["r-100h-at-1"].Severity)
}

func (s *DetectorSuite) TestReviewDetectorStartsFromReset() {
	reset := s.now.Add(-20 * time.Hour)
	s.records.PutReviewItem(recordmodels.ReviewItem{
		ID: "r-reset", Scope: s.scope, Title: "Reset backlog",
		CreatedAt:           s.now.Add(-500 * time.Hour),
		LastEscalationReset: &reset,
	})

	d := NewReviewDetector(s.records, []float64{48, 96, 168})
	candidates, err := d.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Empty(candidates, "a reset item measures from the reset, not creation")
}

func (s *DetectorSuite) TestExpiryDetectors() {
	s.records.PutLicence(recordmodels.Licence{
		ID: "l-soon", Scope: s.scope, Title: "Operating permit",
		ExpiryDate: s.now.AddDate(0, 0, 5),
	})
	s.records.PutLicence(recordmodels.Licence{
		ID: "l-far", Scope: s.scope, Title: "Long permit",
		ExpiryDate: s.now.AddDate(0, 0, 120),
	})
	s.records.PutPeriodicTest(recordmodels.PeriodicTest{
		ID: "t-overdue", Scope: s.scope, Title: "Stack test",
		DueDate: s.now.AddDate(0, 0, -2),
	})

	tiers := []int{90, 60, 30, 14, 7}

	lic := NewLicenceExpiryDetector(s.records, tiers)
	licCandidates, err := lic.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Require().Len(licCandidates, 1)
	s.Equal(domain.DomainLicence, licCandidates[0].Ref.Domain)
	s.Equal(domain.SeverityHigh, licCandidates[0].Severity)

	tst := NewTestExpiryDetector(s.records, tiers)
	tstCandidates, err := tst.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Require().Len(tstCandidates, 1)
	s.Equal(domain.SeverityCritical, tstCandidates[0].Severity)
}

func (s *DetectorSuite) TestEvidenceGapDetector() {
	s.records.PutDeadline(recordmodels.Deadline{
		ID: "d-gap", Scope: s.scope, Title: "Inspection",
		DueDate: s.now.AddDate(0, 0, 5), Status: recordmodels.DeadlinePending,
	})
	s.records.PutDeadline(recordmodels.Deadline{
		ID: "d-covered", Scope: s.scope, Title: "Covered inspection",
		DueDate: s.now.AddDate(0, 0, 5), Status: recordmodels.DeadlinePending,
	})
	s.records.PutEvidenceLink(recordmodels.EvidenceLink{
		ID:        "e-1",
		ItemRef:   domain.ItemRef{Domain: domain.DomainEvidence, EntityID: "d-covered"},
		CreatedAt: s.now.Add(-time.Hour),
	})

	d := NewEvidenceGapDetector(s.records, s.records, 30)
	candidates, err := d.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal("d-gap", candidates[0].Ref.EntityID)
	s.Equal(domain.SeverityHigh, candidates[0].Severity)
}

func (s *DetectorSuite) TestExpiredEvidenceDoesNotCover() {
	expired := s.now.Add(-time.Minute)
	s.records.PutDeadline(recordmodels.Deadline{
		ID: "d-stale", Scope: s.scope, Title: "Stale evidence",
		DueDate: s.now.AddDate(0, 0, 20), Status: recordmodels.DeadlinePending,
	})
	s.records.PutEvidenceLink(recordmodels.EvidenceLink{
		ID:        "e-expired",
		ItemRef:   domain.ItemRef{Domain: domain.DomainEvidence, EntityID: "d-stale"},
		CreatedAt: s.now.AddDate(0, 0, -30),
		ExpiresAt: &expired,
	})

	d := NewEvidenceGapDetector(s.records, s.records, 30)
	candidates, err := d.Detect(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(domain.SeverityLow, candidates[0].Severity)
}
