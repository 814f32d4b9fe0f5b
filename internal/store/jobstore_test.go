package store_test

import (
	"testing"

	"github.com/satsworks/satsagent/internal/store"
	"github.com/satsworks/satsagent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requestTxid = "6f33de3f5347f832f0f5ad39b0bc4309ec6a9de586d6763b733e1fbecbd9c8d8"

func TestAppendIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	jobs, err := store.NewJobStore(dir)
	require.NoError(t, err)

	rec := store.JobRecord{
		RequestTxid:  requestTxid,
		Prompt:       "2+2?",
		Result:       "4",
		ResponseTxid: "915cf91cef8a56c1284616ad149b6ee0674360ed09c51e10b2de5b9ec36b24d4",
		SatsReceived: 3000,
		SatsKept:     2000,
		State:        types.JobSettled,
	}
	require.NoError(t, jobs.Append(rec))

	err = jobs.Append(rec)
	assert.ErrorIs(t, err, store.ErrAlreadyProcessed)
	assert.Len(t, jobs.All(), 1)
}

func TestReloadFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	jobs, err := store.NewJobStore(dir)
	require.NoError(t, err)

	require.NoError(t, jobs.Append(store.JobRecord{
		RequestTxid: requestTxid,
		Prompt:      "hello",
		Error:       "broadcast rejected: status 400",
		State:       types.JobFailed,
	}))

	reloaded, err := store.NewJobStore(dir)
	require.NoError(t, err)
	assert.True(t, reloaded.Has(requestTxid))

	rec, ok := reloaded.Get(requestTxid)
	require.True(t, ok)
	assert.Equal(t, types.JobFailed, rec.State)
	assert.Empty(t, rec.ResponseTxid)
	assert.NotEmpty(t, rec.Error)
}

func TestStats(t *testing.T) {
	jobs, err := store.NewJobStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, jobs.Append(store.JobRecord{
		RequestTxid:  requestTxid,
		ResponseTxid: "915cf91cef8a56c1284616ad149b6ee0674360ed09c51e10b2de5b9ec36b24d4",
		SatsReceived: 3000,
		SatsKept:     2000,
		State:        types.JobSettled,
	}))
	require.NoError(t, jobs.Append(store.JobRecord{
		RequestTxid:  "43a434c639ab3884361f168870b658d331e8dbc9dfbf05af093ee07c20ab766f",
		SatsReceived: 5000,
		Error:        "tx rejected",
		State:        types.JobFailed,
	}))

	stats := jobs.Stats()
	assert.Equal(t, 1, stats.Settled)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int64(8000), stats.TotalReceived)
	assert.Equal(t, int64(2000), stats.TotalKept)
}
