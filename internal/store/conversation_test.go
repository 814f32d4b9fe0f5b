package store_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/satsworks/satsagent/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requester = "bcrt1qf890a762934d98c2f4cabbb829863de03fd7e7"

func newConvStore(t *testing.T) *store.ConversationStore {
	convs, err := store.NewConversationStore(t.TempDir(), "test-salt")
	require.NoError(t, err)
	return convs
}

func TestPendingLifecycle(t *testing.T) {
	convs := newConvStore(t)

	require.NoError(t, convs.AppendPending(requester, "2+2?", requestTxid))
	history, err := convs.History(requester)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Pending)

	require.NoError(t, convs.ResolvePending(requester, "4", "915cf91cef8a56c1284616ad149b6ee0674360ed09c51e10b2de5b9ec36b24d4"))
	history, err = convs.History(requester)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Pending)
	assert.Equal(t, "4", history[0].Result)
}

func TestFailedAttemptRestoresConversation(t *testing.T) {
	convs := newConvStore(t)

	require.NoError(t, convs.AppendPending(requester, "first", requestTxid))
	require.NoError(t, convs.ResolvePending(requester, "one", "aa"))
	before, err := convs.History(requester)
	require.NoError(t, err)

	require.NoError(t, convs.AppendPending(requester, "second", "bb"))
	require.NoError(t, convs.DropPending(requester))

	after, err := convs.History(requester)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestContextWindow(t *testing.T) {
	convs := newConvStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, convs.AppendPending(requester, fmt.Sprintf("prompt-%d", i), fmt.Sprintf("tx-%d", i)))
		require.NoError(t, convs.ResolvePending(requester, fmt.Sprintf("result-%d", i), fmt.Sprintf("res-%d", i)))
	}

	window, err := convs.Context(requester, 3)
	require.NoError(t, err)
	require.Len(t, window, 3)
	// most recent three, in original chronological order
	assert.Equal(t, "prompt-7", window[0].Prompt)
	assert.Equal(t, "prompt-8", window[1].Prompt)
	assert.Equal(t, "prompt-9", window[2].Prompt)

	// the pending entry is excluded from the window
	require.NoError(t, convs.AppendPending(requester, "in-flight", "tx-10"))
	window, err = convs.Context(requester, 3)
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, "prompt-9", window[2].Prompt)
}

func TestFilenamesNeverContainRawAddress(t *testing.T) {
	dir := t.TempDir()
	convs, err := store.NewConversationStore(dir, "salt")
	require.NoError(t, err)
	require.NoError(t, convs.AppendPending(requester, "hi", requestTxid))

	files, err := os.ReadDir(dir + "/conversations")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotContains(t, files[0].Name(), requester)
	assert.Len(t, files[0].Name(), 64+len(".json"))
}
