package diagnostic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/store"
)

func TestHistory_EndIsSetOnce(t *testing.T) {
	h := NewHistory("demo", "id", "job", "Refreshed files")
	start := time.Unix(100, 0)
	h.SetIndexingStart(start)

	assert.True(t, h.SetIndexingEnd(start.Add(2*time.Second)))
	assert.False(t, h.SetIndexingEnd(start.Add(time.Hour)))

	assert.Equal(t, 2*time.Second, h.Duration())
}

func TestHistory_ZeroValueEndIsSetOnce(t *testing.T) {
	var h History

	assert.True(t, h.SetIndexingEnd(time.Unix(1, 0)))
	assert.False(t, h.SetIndexingEnd(time.Unix(2, 0)))
	assert.Equal(t, time.Unix(1, 0), h.Times.IndexingEnd)
}

func TestHistory_AddProviderStatisticsMerges(t *testing.T) {
	h := NewHistory("demo", "id", "job", "label")

	h.AddProviderStatistics(Summary{
		Files: 3, Skipped: 1, Bytes: 30,
		Providers: []ProviderStatistics{{Provider: "fulltext", Files: 3, Items: 3}},
	})
	h.AddProviderStatistics(Summary{
		Files: 2, Bytes: 20,
		Providers: []ProviderStatistics{
			{Provider: "fulltext", Files: 2, Items: 2},
			{Provider: "symbols", Files: 1, Items: 5},
		},
		Failures: []FileFailure{{Path: "/p/x.go", Provider: "symbols", Error: "boom"}},
	})

	assert.Equal(t, 5, h.Files)
	assert.Equal(t, 1, h.Skipped)
	assert.Equal(t, int64(50), h.Bytes)
	require.Len(t, h.Providers, 2)
	assert.Equal(t, 5, h.Providers[0].Files)
	assert.Equal(t, "symbols", h.Providers[1].Provider)
	assert.Len(t, h.Failures, 1)
}

func TestHistory_FinalizedIsDetached(t *testing.T) {
	h := NewHistory("demo", "id", "job", "label")
	h.AddProviderStatistics(Summary{Providers: []ProviderStatistics{{Provider: "fulltext"}}})

	final := h.Finalized()
	h.Providers[0].Files = 99

	assert.Equal(t, 0, final.Providers[0].Files)
}

func finishedHistory(jobID string, start time.Time, files int) History {
	h := NewHistory("demo", "pid", jobID, "Refreshed files")
	h.SetIndexingStart(start)
	h.Files = files
	h.SetIndexingEnd(start.Add(time.Second))
	return h.Finalized()
}

func TestDumper_WritesAndPrunes(t *testing.T) {
	d := NewDumper(t.TempDir(), 3)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dump(ctx, finishedHistory(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute), 1)))
	}

	files, err := d.Files()
	require.NoError(t, err)
	require.Len(t, files, 3)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var h History
	require.NoError(t, json.Unmarshal(data, &h))
	assert.Equal(t, "job-2", h.JobID)
	assert.Equal(t, 1, h.Files)
}

func TestDumper_SkipsEmptyJobs(t *testing.T) {
	d := NewDumper(t.TempDir(), 3)
	ctx := context.Background()

	require.NoError(t, d.Dump(ctx, finishedHistory("empty", time.Unix(1, 0), 0)))
	files, err := d.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	// Interrupted jobs are dumped even when nothing was indexed
	h := finishedHistory("interrupted", time.Unix(2, 0), 0)
	h.Times.WasInterrupted = true
	require.NoError(t, d.Dump(ctx, h))
	files, err = d.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, filepath.Join(d.Dir, filepath.Base(files[0])), files[0])
}

func TestStoreSink_RoundTrip(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)
	defer st.Close()
	sink := NewStoreSink(st, 2)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		h := finishedHistory(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute), i+1)
		h.Providers = []ProviderStatistics{{Provider: "fulltext", Files: i + 1}}
		require.NoError(t, sink.Dump(ctx, h))
	}

	recent, err := sink.Recent(ctx, "pid", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "job-2", recent[0].JobID)
	assert.Equal(t, 3, recent[0].Providers[0].Files)
	assert.Equal(t, time.Second, recent[0].Duration())
}

type recordingSink struct {
	got []History
	err error
}

func (r *recordingSink) Dump(_ context.Context, h History) error {
	r.got = append(r.got, h)
	return r.err
}

func TestMultiSink_ForwardsToAll(t *testing.T) {
	a := &recordingSink{err: errors.New("disk full")}
	b := &recordingSink{}
	m := MultiSink{a, b, LogSink{}}

	err := m.Dump(context.Background(), finishedHistory("job", time.Unix(1, 0), 1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}
