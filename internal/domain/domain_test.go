package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/triviapot/internal/domain"
)

func TestRoundStatus_CanTransition(t *testing.T) {
	assert.True(t, domain.RoundOpen.CanTransition(domain.RoundClosed))
	assert.True(t, domain.RoundOpen.CanTransition(domain.RoundRefund))
	assert.True(t, domain.RoundClosed.CanTransition(domain.RoundFinalized))
	assert.True(t, domain.RoundClosed.CanTransition(domain.RoundRefund))

	assert.False(t, domain.RoundOpen.CanTransition(domain.RoundFinalized))
	assert.False(t, domain.RoundClosed.CanTransition(domain.RoundOpen))
	assert.False(t, domain.RoundFinalized.CanTransition(domain.RoundRefund))
	assert.False(t, domain.RoundRefund.CanTransition(domain.RoundFinalized))
}

func TestSession_Blocks(t *testing.T) {
	tests := map[string]struct {
		questions  int
		blockSize  int
		index      int
		wantBlocks int
		wantBlock  int
		wantLastIn bool
		wantFrom   int
		wantTo     int
	}{
		"ranked session is a single block": {
			questions: 10, blockSize: 10, index: 9,
			wantBlocks: 1, wantBlock: 0, wantLastIn: true, wantFrom: 0, wantTo: 10,
		},
		"custom game of 15 has three blocks": {
			questions: 15, blockSize: 5, index: 7,
			wantBlocks: 3, wantBlock: 1, wantLastIn: false, wantFrom: 5, wantTo: 10,
		},
		"last question of a middle block": {
			questions: 15, blockSize: 5, index: 9,
			wantBlocks: 3, wantBlock: 1, wantLastIn: true, wantFrom: 5, wantTo: 10,
		},
		"index past the end is clamped to the last block": {
			questions: 10, blockSize: 5, index: 10,
			wantBlocks: 2, wantBlock: 1, wantLastIn: false, wantFrom: 5, wantTo: 10,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := domain.Session{QuestionIDs: make([]string, tt.questions), BlockSize: tt.blockSize}
			assert.Equal(t, tt.wantBlocks, s.TotalBlocks())
			assert.Equal(t, tt.wantBlock, s.BlockOf(tt.index))
			assert.Equal(t, tt.wantLastIn, s.IsLastInBlock(tt.index))

			from, to := s.BlockRange(s.BlockOf(tt.index))
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantTo, to)
		})
	}
}

func TestSession_State(t *testing.T) {
	s := domain.Session{QuestionIDs: make([]string, 10)}
	assert.Equal(t, domain.SessionCreated, s.State())

	s.Cursor = 3
	assert.Equal(t, domain.SessionActive, s.State())

	now := time.Now()
	s.CompleteTime = &now
	assert.Equal(t, domain.SessionCompleted, s.State())
	assert.True(t, s.Completed())
}
