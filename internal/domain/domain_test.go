package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_TrackedBranch(t *testing.T) {
	assert.Equal(t, DefaultBranch, Settings{}.TrackedBranch())
	assert.Equal(t, "develop", Settings{Branch: "develop"}.TrackedBranch())
}

func TestTrigger_Silent(t *testing.T) {
	assert.False(t, TriggerManual.Silent())
	assert.True(t, TriggerAutomatic.Silent())
	assert.True(t, TriggerTeardown.Silent())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "missing token", err: ErrAuthNotConfigured, want: KindConfiguration},
		{name: "missing url", err: fmt.Errorf("guard: %w", ErrRemoteURLNotConfigured), want: KindConfiguration},
		{name: "rejected credentials", err: fmt.Errorf("fetch: %w", ErrAuthentication), want: KindAuthentication},
		{
			name: "authentication wins over transport",
			err:  errors.Join(ErrTransport, ErrAuthentication),
			want: KindAuthentication,
		},
		{name: "missing remote branch", err: ErrRemoteBranchNotFound, want: KindTransport},
		{name: "flush failure", err: fmt.Errorf("%w: disk full", ErrFilesystem), want: KindFilesystem},
		{name: "stage failure", err: fmt.Errorf("%w: 2 paths failed", ErrStage), want: KindStage},
		{name: "lock held", err: ErrOperationInProgress, want: KindBusy},
		{name: "anything else", err: errors.New("boom"), want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSyncSession_HappyPath(t *testing.T) {
	s := NewSyncSession()
	assert.Equal(t, SyncIdle, s.State())
	assert.False(t, s.Terminal())

	for _, next := range []SyncState{SyncFetching, SyncCheckingOut, SyncResetting, SyncCleaning, SyncDone} {
		s.Advance(next)
	}

	assert.True(t, s.Terminal())
	assert.Equal(t, []SyncState{
		SyncIdle, SyncFetching, SyncCheckingOut, SyncResetting, SyncCleaning, SyncDone,
	}, s.History())
}

func TestSyncSession_InvalidTransitionPanics(t *testing.T) {
	s := NewSyncSession()
	assert.Panics(t, func() { s.Advance(SyncCleaning) })
}

func TestPushSession_SkipsOptionalStates(t *testing.T) {
	s := NewPushSession()
	s.Advance(PushStaging)
	s.Advance(PushCountingAhead)
	s.Advance(PushDone)

	assert.Equal(t, []PushState{PushIdle, PushStaging, PushCountingAhead, PushDone}, s.History())
}

func TestSession_Fail(t *testing.T) {
	s := NewPushSession()
	s.Advance(PushStaging)

	err := s.Fail(ErrStage)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStage)
	assert.Contains(t, err.Error(), "staging")
	assert.Equal(t, PushFailed, s.State())
	assert.True(t, s.Terminal())

	// Failing again is a no-op and keeps the original error chain.
	again := s.Fail(ErrTransport)
	assert.Equal(t, ErrTransport, again)
	assert.Equal(t, []PushState{PushIdle, PushStaging, PushFailed}, s.History())
}

func TestSession_FailNil(t *testing.T) {
	s := NewSyncSession()
	assert.NoError(t, s.Fail(nil))
	assert.Equal(t, SyncIdle, s.State())
}

func TestOutcome_Succeeded(t *testing.T) {
	assert.True(t, Outcome{}.Succeeded())
	assert.False(t, Outcome{Err: ErrTransport}.Succeeded())
}
