package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReport(t *testing.T, runID string) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "findings.db"), runID)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestReport_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	st := newTestReport(t, "run-1")
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Record(ctx, models.Finding{Kind: models.FindingMissing, RevID: 1001, Timestamp: ts}))
	require.NoError(t, st.Record(ctx, models.Finding{Kind: models.FindingUnfixable, RevID: 1003, ParentID: 1002, Detail: "parent absent"}))
	require.NoError(t, st.Record(ctx, models.Finding{Kind: models.FindingMissing, RevID: 1004}))

	findings, err := st.Findings(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, int64(1001), findings[0].RevID)
	assert.True(t, findings[0].Timestamp.Equal(ts))
	assert.Equal(t, int64(1002), findings[1].ParentID)
	assert.Equal(t, "parent absent", findings[1].Detail)
	assert.True(t, findings[2].Timestamp.IsZero())

	counts, err := st.CountByKind(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.FindingMissing])
	assert.Equal(t, 1, counts[models.FindingUnfixable])

	other, err := st.Findings(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
