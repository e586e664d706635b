package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/database/memory"
	"github.com/roach88/tunedb/internal/instrument"
)

func TestSessionCloseLeavesScope(t *testing.T) {
	outer := memory.New()
	parent := database.EnterWithScope(context.Background(), outer)

	db := instrument.Wrap(memory.New(), nil, zerolog.Nop())
	s := &session{ctx: database.EnterWithScope(parent, db), db: db}
	assert.Same(t, db, s.current())

	require.NoError(t, s.Close())
	cur, ok := database.Current(s.ctx)
	require.True(t, ok)
	assert.Same(t, outer, cur, "closing restores the enclosing database")

	require.NoError(t, s.Close())
	_, ok = database.Current(s.ctx)
	assert.False(t, ok)

	err := s.Close()
	assert.True(t, errors.Is(err, database.ErrEmptyScope), "got %v", err)
}
