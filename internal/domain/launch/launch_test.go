package launch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownDays(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{elapsed: 1 * time.Hour, want: 7},
		{elapsed: 24 * time.Hour, want: 6},
		{elapsed: 50 * time.Hour, want: 5},
		{elapsed: 167 * time.Hour, want: 1},
		{elapsed: 167*time.Hour + 59*time.Minute, want: 1},
	}
	for _, tc := range cases {
		err := RateLimited(168*time.Hour - tc.elapsed)
		assert.Equal(t, tc.want, err.CooldownDays(), "elapsed %s", tc.elapsed)
	}
	assert.Equal(t, 0, RateLimited(0).CooldownDays())
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("guard: %w", Errorf(KindDuplicatePost, "post p1 already launched"))

	assert.True(t, errors.Is(err, ErrDuplicatePost))
	assert.False(t, errors.Is(err, ErrDuplicateSymbol))
	assert.Equal(t, KindDuplicatePost, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestNewFailureKeepsClassification(t *testing.T) {
	cause := Invalid([]Violation{
		{Field: "symbol", Message: "must be at most 10 characters"},
		{Field: "wallet", Message: "is required"},
	})
	f := NewFailure("run-1", "p1", StageValidate, KindParse, cause)

	assert.Equal(t, KindValidation, f.Kind)
	assert.Len(t, f.Violations, 2)
	assert.True(t, errors.Is(f, ErrValidation))
	assert.False(t, f.Stranded())

	plain := NewFailure("run-1", "p1", StageCommit, KindLedger, errors.New("disk full"))
	assert.Equal(t, KindLedger, plain.Kind)
	assert.Contains(t, plain.Error(), "disk full")
}

func TestMachineLinearOrder(t *testing.T) {
	m := NewMachine()
	stages := []Stage{StageVerify, StageValidate, StageAdmit, StagePublish, StageCreate, StageSign, StageBroadcast, StageCommit}
	for _, s := range stages {
		require.NoError(t, m.Advance(s))
	}
	assert.Equal(t, StateConfirmed, m.State())
	assert.Len(t, m.History(), len(stages))

	assert.Error(t, m.Advance(StageVerify))
	m.Fail()
	assert.Equal(t, StateConfirmed, m.State(), "terminal state must not change")
}

func TestMachineRejectsSkips(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Advance(StageVerify))
	assert.Error(t, m.Advance(StageAdmit))

	m.Fail()
	assert.Equal(t, StateFailed, m.State())
	assert.Error(t, m.Advance(StageValidate))
}

func TestResumeMachineStartsMidway(t *testing.T) {
	m := ResumeMachine(StateSigned)
	require.NoError(t, m.Advance(StageBroadcast))
	require.NoError(t, m.Advance(StageCommit))
	assert.Equal(t, StateConfirmed, m.State())
}
