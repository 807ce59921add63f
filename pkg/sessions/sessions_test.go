package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreResolve(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, store.Put(ctx, "token-1", &Session{UserID: "user-1", Username: "alice"}, time.Hour))

	session, err := store.Resolve(ctx, "token-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "alice", session.Username)
}
