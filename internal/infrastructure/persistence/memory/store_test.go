package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

func TestStore_IntakeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := intake.NewID("uni", 1)

	_, err := s.Intake(ctx, id)
	assert.True(t, errors.Is(err, shared.ErrNoSuchIntake))

	info := intake.Info{ApplicationOpens: 1, ApplicationCloses: 5, MaxApplicants: 3, MaxAccepted: 1, Status: intake.StatusOngoing}
	require.NoError(t, s.Commit(ctx, intake.NewChangeset().PutIntake(id, info).SetLastIntake("uni", id)))

	got, err := s.Intake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, info, *got)

	last, err := s.LastIntake(ctx, "uni")
	require.NoError(t, err)
	assert.Equal(t, id, last)
}

func TestStore_DueForClosingIsOrderedRange(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a, b, c := intake.NewID("a", 1), intake.NewID("b", 1), intake.NewID("a", 2)

	cs := intake.NewChangeset().
		IndexClose(20, b).
		IndexClose(10, c).
		IndexClose(20, a).
		IndexClose(20, a)
	require.NoError(t, s.Commit(ctx, cs))

	due, err := s.DueForClosing(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.DueForClosing(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, []intake.ClosingEntry{
		{Block: 10, Intake: c},
		{Block: 20, Intake: a},
		{Block: 20, Intake: b},
	}, due)

	require.NoError(t, s.Commit(ctx, intake.NewChangeset().UnindexClose(due[0])))
	due, err = s.DueForClosing(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestStore_PurgeKeepsAccepted(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := intake.NewID("uni", 1)
	other := intake.NewID("uni", 2)

	cs := intake.NewChangeset().
		PutApplication(id, intake.Application{Applicant: "s1", AppliedOn: 3}).
		PutApplication(id, intake.Application{Applicant: "s2", AppliedOn: 4}).
		PutApplication(other, intake.Application{Applicant: "s1", AppliedOn: 4}).
		Accept(id, "s1")
	require.NoError(t, s.Commit(ctx, cs))

	apps, err := s.Applications(ctx, id)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, shared.AccountID("s1"), apps[0].Applicant)

	require.NoError(t, s.Commit(ctx, intake.NewChangeset().PurgeApplicationsOf(id)))

	_, err = s.Application(ctx, id, "s1")
	assert.True(t, errors.Is(err, shared.ErrNoSuchApplication))
	ok, err := s.IsAccepted(ctx, id, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := s.AcceptedCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Application(ctx, other, "s1")
	assert.NoError(t, err)
}

func TestStore_CommitCancelledContextWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStore()
	id := intake.NewID("uni", 1)

	err := s.Commit(ctx, intake.NewChangeset().PutIntake(id, intake.Info{}))
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))

	_, err = s.Intake(context.Background(), id)
	assert.True(t, errors.Is(err, shared.ErrNoSuchIntake))
}

func TestStore_StateRootIsDeterministic(t *testing.T) {
	ctx := context.Background()
	build := func(order []shared.AccountID) *Store {
		s := NewStore()
		id := intake.NewID("uni", 1)
		cs := intake.NewChangeset().PutIntake(id, intake.Info{ApplicationCloses: 9, Status: intake.StatusOngoing})
		for _, a := range order {
			cs.PutApplication(id, intake.Application{Applicant: a, AppliedOn: 2})
		}
		require.NoError(t, s.Commit(ctx, cs))
		return s
	}

	r1, err := build([]shared.AccountID{"x", "y", "z"}).StateRoot()
	require.NoError(t, err)
	r2, err := build([]shared.AccountID{"z", "x", "y"}).StateRoot()
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	r3, err := build([]shared.AccountID{"x", "y"}).StateRoot()
	require.NoError(t, err)
	assert.NotEqual(t, r1, r3)
}
