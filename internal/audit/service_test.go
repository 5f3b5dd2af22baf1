package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testClock = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

type memoryRepo struct {
	entries  []Entry
	lastPage TimelineFilters
}

func (m *memoryRepo) Timeline(_ context.Context, filters TimelineFilters) ([]Entry, int, error) {
	m.lastPage = filters
	return m.entries, len(m.entries), nil
}

func (m *memoryRepo) Stream(_ context.Context, _ TimelineFilters, fn func(Entry) error) error {
	for _, e := range m.entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func newTestService(entries []Entry) (*Service, *memoryRepo) {
	repo := &memoryRepo{entries: entries}
	svc := NewService(repo)
	svc.now = func() time.Time { return testClock }
	return svc, repo
}

func TestTimelineClampsPaging(t *testing.T) {
	svc, repo := newTestService(nil)
	ctx := context.Background()

	_, _, err := svc.Timeline(ctx, TimelineFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, repo.lastPage.Page)
	require.Equal(t, 50, repo.lastPage.Limit)

	_, _, err = svc.Timeline(ctx, TimelineFilters{Page: 3, Limit: 900})
	require.NoError(t, err)
	require.Equal(t, 3, repo.lastPage.Page)
	require.Equal(t, 200, repo.lastPage.Limit)
}

func TestExportTimelineStreams(t *testing.T) {
	svc, _ := newTestService([]Entry{
		{
			ID:        1,
			ActorID:   7,
			ActorName: "asha",
			Action:    "dispatch:create",
			Entity:    "dispatch",
			EntityID:  12,
			Meta:      map[string]any{"qty": 5},
			At:        time.Date(2025, 8, 18, 9, 0, 0, 0, time.UTC),
		},
		{
			ID:       2,
			ActorID:  9,
			Action:   "finance:invoice_raise",
			Entity:   "invoice",
			EntityID: 3,
			At:       time.Date(2025, 8, 19, 11, 30, 0, 0, time.UTC),
		},
	})

	from := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := svc.ExportTimeline(context.Background(), &buf, TimelineFilters{Entity: "dispatch", From: &from})
	require.NoError(t, err)

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "# Audit Timeline\r\n"))
	require.Contains(t, out, "# Entity dispatch From 2025-08-01\r\n")
	require.Contains(t, out, "# Generated 2025-08-20T10:00:00Z\r\n")
	require.Contains(t, out, "Time,Actor,Action,Entity,Entity ID,Meta\r\n")
	require.Contains(t, out, `2025-08-18T09:00:00Z,asha,dispatch:create,dispatch,12,"{""qty"":5}"`)

	// Unnamed actors fall back to their operator id.
	require.Contains(t, out, "2025-08-19T11:30:00Z,operator-9,finance:invoice_raise,invoice,3,\r\n")

	// Oldest entry first.
	require.Less(t, strings.Index(out, "2025-08-18"), strings.Index(out, "2025-08-19"))
}
