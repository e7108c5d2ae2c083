package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresence(t *testing.T) (*RedisPresence, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPresence(client, 5*time.Second, time.Hour), client, mr
}

func TestTypingFlagExpires(t *testing.T) {
	p, _, mr := newTestPresence(t)

	require.NoError(t, p.SetTyping(context.Background(), testConvID, 1, true))

	typing, err := p.IsTyping(context.Background(), testConvID, 1)
	require.NoError(t, err)
	assert.True(t, typing)

	// No explicit stop arrives; the flag decays to false on its own.
	mr.FastForward(6 * time.Second)

	typing, err = p.IsTyping(context.Background(), testConvID, 1)
	require.NoError(t, err)
	assert.False(t, typing)
}

func TestTypingStopClearsImmediately(t *testing.T) {
	p, _, _ := newTestPresence(t)

	require.NoError(t, p.SetTyping(context.Background(), testConvID, 1, true))
	require.NoError(t, p.SetTyping(context.Background(), testConvID, 1, false))

	typing, err := p.IsTyping(context.Background(), testConvID, 1)
	require.NoError(t, err)
	assert.False(t, typing)
}

func TestTypingRestartRefreshesTTL(t *testing.T) {
	p, _, mr := newTestPresence(t)

	require.NoError(t, p.SetTyping(context.Background(), testConvID, 1, true))
	mr.FastForward(4 * time.Second)
	require.NoError(t, p.SetTyping(context.Background(), testConvID, 1, true))
	mr.FastForward(4 * time.Second)

	typing, err := p.IsTyping(context.Background(), testConvID, 1)
	require.NoError(t, err)
	assert.True(t, typing, "a fresh typing signal restarts the decay window")
}

func TestTypingUsersFiltersParticipants(t *testing.T) {
	p, _, _ := newTestPresence(t)

	require.NoError(t, p.SetTyping(context.Background(), testConvID, 1, true))
	require.NoError(t, p.SetTyping(context.Background(), testConvID, 3, true))

	typing, err := p.TypingUsers(context.Background(), testConvID, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, typing)

	typing, err = p.TypingUsers(context.Background(), testConvID, nil)
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestClearTyping(t *testing.T) {
	p, _, _ := newTestPresence(t)

	require.NoError(t, p.SetTyping(context.Background(), testConvID, 1, true))
	require.NoError(t, p.ClearTyping(context.Background(), testConvID, 1))

	typing, err := p.IsTyping(context.Background(), testConvID, 1)
	require.NoError(t, err)
	assert.False(t, typing)
}

func TestReadCursorAbsentByDefault(t *testing.T) {
	p, _, _ := newTestPresence(t)

	_, exists, err := p.ReadCursor(context.Background(), testConvID, 1)
	require.NoError(t, err)
	assert.False(t, exists, "a user who never read sees everything as unread")
}

func TestSetReadStoresCursor(t *testing.T) {
	p, _, _ := newTestPresence(t)

	before := float64(time.Now().Add(-time.Second).UnixNano()) / 1e9
	require.NoError(t, p.SetRead(context.Background(), testConvID, 1))

	cursor, exists, err := p.ReadCursor(context.Background(), testConvID, 1)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Greater(t, cursor, before)
}

func TestReadCursorIgnoresStaleAcknowledgment(t *testing.T) {
	p, client, _ := newTestPresence(t)

	require.NoError(t, p.SetRead(context.Background(), testConvID, 1))
	cursor, _, err := p.ReadCursor(context.Background(), testConvID, 1)
	require.NoError(t, err)

	key := readCursorKey(testConvID, 1)
	err = advanceCursorScript.Run(context.Background(), client, []string{key}, strconv.FormatFloat(cursor-100, 'f', -1, 64), 3600).Err()
	require.NoError(t, err)

	after, exists, err := p.ReadCursor(context.Background(), testConvID, 1)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, cursor, after, "the cursor only moves forward")
}

func TestReadCursorKeepsFullPrecision(t *testing.T) {
	p, client, _ := newTestPresence(t)

	// Sub-microsecond residue must survive the store-and-load round trip,
	// or the cursor lands below the moment the read happened.
	score := 2000000000.1244564056
	key := readCursorKey(testConvID, 1)
	err := advanceCursorScript.Run(context.Background(), client, []string{key}, strconv.FormatFloat(score, 'f', -1, 64), 3600).Err()
	require.NoError(t, err)

	cursor, exists, err := p.ReadCursor(context.Background(), testConvID, 1)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, score, cursor)
}

func TestUnreadCountFromCursor(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisMessageStore(client, time.Hour, 100)
	p := NewRedisPresence(client, 5*time.Second, time.Hour)

	appendN(t, s, 3)
	require.NoError(t, p.SetRead(context.Background(), testConvID, 1))

	cursor, exists, err := p.ReadCursor(context.Background(), testConvID, 1)
	require.NoError(t, err)
	require.True(t, exists)

	unread, err := s.CountAfter(context.Background(), testConvID, cursor)
	require.NoError(t, err)
	assert.Zero(t, unread, "everything existing at read time is read")

	appendN(t, s, 1)
	unread, err = s.CountAfter(context.Background(), testConvID, cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread, "one new message means exactly one unread")

	appendN(t, s, 2)
	unread, err = s.CountAfter(context.Background(), testConvID, cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)
}
