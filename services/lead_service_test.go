package services

import (
	"context"
	"testing"

	"github.com/spacehub/spacehub-api/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadService_CaptureUpsertsByEmail(t *testing.T) {
	s := NewLeadService(dbtest.Open(t), testLogger())
	ctx := context.Background()

	first, err := s.Capture(ctx, LeadInput{Email: "Lead@SpaceHub.test", Name: "Lee", Source: "landing"})
	require.NoError(t, err)

	second, err := s.Capture(ctx, LeadInput{Email: "lead@spacehub.test", Name: "Lee Ann", Source: "pricing", Message: "team plan?"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Lee Ann", second.Name)
	assert.Equal(t, "pricing", second.Source)

	leads, total, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, leads, 1)
	assert.Equal(t, "team plan?", leads[0].Message)
}
