//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tumi/internal/activitylog/models"
	"tumi/internal/activitylog/store"
	"tumi/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "activity_logs"))
}

func (s *PostgresStoreSuite) TestAppendAndFilter() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	s.Require().NoError(s.store.Append(ctx, models.Entry{
		ID: uuid.New(), CreatedAt: base, Message: "Saved payment events are not an array",
		Severity: models.SeverityWarning, Category: "webhook",
		Data: []byte(`{"id":"pi_1"}`), OldData: []byte(`{"events":{}}`),
	}))
	s.Require().NoError(s.store.Append(ctx, models.Entry{
		ID: uuid.New(), CreatedAt: base.Add(time.Second), Message: "Refund failed during registration move",
		Severity: models.SeverityError, Category: "webhook",
	}))

	all, err := s.store.List(ctx, models.Filter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(models.SeverityError, all[0].Severity)
	s.Nil(all[0].Data)

	warnings, err := s.store.List(ctx, models.Filter{Severities: []models.Severity{models.SeverityWarning}, Category: "webhook"})
	s.Require().NoError(err)
	s.Require().Len(warnings, 1)
	s.JSONEq(`{"id":"pi_1"}`, string(warnings[0].Data))
}
