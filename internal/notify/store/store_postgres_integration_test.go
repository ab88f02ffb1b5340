//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vigil/internal/notify/models"
	"vigil/pkg/domain"
	"vigil/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Postgres
	now   time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.T().Cleanup(func() {
		_ = s.pg.DB.Close()
		_ = s.pg.Container.Terminate(context.Background())
	})

	ddl, err := os.ReadFile("../../../migrations/0001_init.sql")
	s.Require().NoError(err)
	s.Require().NoError(s.pg.Apply(context.Background(), string(ddl)))

	s.store = NewPostgres(s.pg.DB)
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) newNotification(at time.Time) *models.Notification {
	n, err := models.New(
		domain.UserID(uuid.New()), "user@example.com",
		domain.Scope{CompanyID: domain.CompanyID(uuid.New())},
		domain.ItemRef{Domain: domain.DomainDeadline, EntityID: uuid.NewString()},
		domain.LevelNone, "deadline.low", domain.SeverityLow, "subject", "body", at,
	)
	s.Require().NoError(err)
	return n
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	n := s.newNotification(s.now)
	s.Require().NoError(s.store.Create(ctx, n))

	got, err := s.store.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(n.ID, got.ID)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(n.ItemRef, got.ItemRef)
}

func (s *PostgresStoreSuite) TestClaimDueLease() {
	ctx := context.Background()
	n := s.newNotification(s.now.Add(-time.Minute))
	s.Require().NoError(s.store.Create(ctx, n))

	claimed, err := s.store.ClaimDue(ctx, s.now, 100, 5*time.Minute)
	s.Require().NoError(err)

	var found bool
	for _, c := range claimed {
		if c.ID == n.ID {
			found = true
		}
	}
	s.Require().True(found)

	// The lease pushed scheduled_for forward; the same window is empty.
	again, err := s.store.ClaimDue(ctx, s.now, 100, 5*time.Minute)
	s.Require().NoError(err)
	for _, c := range again {
		s.NotEqual(n.ID, c.ID)
	}
}

func (s *PostgresStoreSuite) TestSentIsTerminal() {
	ctx := context.Background()
	n := s.newNotification(s.now)
	s.Require().NoError(s.store.Create(ctx, n))
	s.Require().NoError(s.store.MarkSent(ctx, n.ID, "email", uuid.NewString(), s.now))

	s.Error(s.store.MarkFailed(ctx, n.ID, "boom"))

	got, err := s.store.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, got.Status)
}

func (s *PostgresStoreSuite) TestDigestQueueAndFlushListing() {
	ctx := context.Background()
	n := s.newNotification(s.now)
	s.Require().NoError(s.store.Create(ctx, n))

	due := s.now.Add(time.Hour)
	s.Require().NoError(s.store.MarkQueued(ctx, n.ID, "2026-03-10", due))

	recipients, err := s.store.QueuedDigestRecipients(ctx, due.Add(time.Minute))
	s.Require().NoError(err)
	s.Contains(recipients, n.RecipientID)

	batch, err := s.store.ListQueuedDigest(ctx, n.RecipientID, due.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().Len(batch, 1)
	s.Equal(n.ID, batch[0].ID)

	s.Require().NoError(s.store.MarkDigestSent(ctx, []domain.NotificationID{n.ID}, "email", uuid.NewString(), s.now))
	got, err := s.store.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, got.Status)
}

func (s *PostgresStoreSuite) TestUpdateDeliveryStatus() {
	ctx := context.Background()
	n := s.newNotification(s.now)
	s.Require().NoError(s.store.Create(ctx, n))

	providerID := uuid.NewString()
	s.Require().NoError(s.store.MarkSent(ctx, n.ID, "email", providerID, s.now))

	matched, err := s.store.UpdateDeliveryStatus(ctx, providerID, models.DeliveryBounced)
	s.Require().NoError(err)
	s.True(matched)

	matched, err = s.store.UpdateDeliveryStatus(ctx, "unknown", models.DeliveryDelivered)
	s.Require().NoError(err)
	s.False(matched)
}
