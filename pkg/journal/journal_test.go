package journal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapctl/pkg/types"
)

func outcome(id string, started time.Time, ok bool) types.SwapOutcome {
	o := types.SwapOutcome{
		RequestID:  id,
		Endpoint:   "https://quote.example",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Request: types.SwapRequest{
			InputAsset:  types.Asset{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
			OutputAsset: types.Asset{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
			Amount:      1_000_000_000,
		},
	}
	if ok {
		o.Success = &types.SwapSuccess{TransactionReference: "sig-" + id, ActualOutputAmount: 150_000_000, ExpectedOutputAmount: 150_000_000, Confirmed: true}
	} else {
		o.Failure = &types.SwapFailure{Kind: types.KindNoLiquidity, Message: "no viable quote"}
	}
	return o
}

func TestJournal_RecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	j, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, path, j.Path())
	assert.Equal(t, 0, j.Count())
	assert.Equal(t, "journal", j.Name())

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(context.Background(), outcome("a", base, true)))
	require.NoError(t, j.Record(context.Background(), outcome("b", base.Add(time.Minute), false)))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	reopened, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count())

	got, err := reopened.Get("a")
	require.NoError(t, err)
	require.NotNil(t, got.Success)
	assert.Equal(t, "sig-a", got.Success.TransactionReference)
	assert.True(t, got.StartedAt.Equal(base))

	_, err = reopened.Get("missing")
	require.Error(t, err)
}

func TestJournal_List(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(context.Background(), outcome("old", base, true)))
	require.NoError(t, j.Record(context.Background(), outcome("mid", base.Add(time.Minute), false)))
	require.NoError(t, j.Record(context.Background(), outcome("new", base.Add(2*time.Minute), false)))

	ids := func(list []types.SwapOutcome) []string {
		out := []string{}
		for _, o := range list {
			out = append(out, o.RequestID)
		}
		return out
	}

	assert.Equal(t, []string{"new", "mid", "old"}, ids(j.List(0, false)))
	assert.Equal(t, []string{"new", "mid"}, ids(j.List(2, false)))
	assert.Equal(t, []string{"new", "mid"}, ids(j.List(0, true)))
	assert.Equal(t, []string{"new"}, ids(j.List(1, true)))
}

func TestJournal_RecordReplacesSameID(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, j.Record(context.Background(), outcome("x", now, false)))
	require.NoError(t, j.Record(context.Background(), outcome("x", now, true)))

	assert.Equal(t, 1, j.Count())
	got, err := j.Get("x")
	require.NoError(t, err)
	assert.True(t, got.Succeeded())
}

func TestJournal_RecordRejects(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	require.Error(t, j.Record(context.Background(), types.SwapOutcome{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, j.Record(ctx, outcome("c", time.Now(), true)), context.Canceled)
	assert.Equal(t, 0, j.Count())
}

func TestJournal_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := New(path)
	require.Error(t, err)
}

func TestJournal_ConcurrentRecord(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			assert.NoError(t, j.Record(context.Background(), outcome(id, time.Now(), i%2 == 0)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, j.Count())
	assert.Len(t, j.List(0, true), 10)
}
