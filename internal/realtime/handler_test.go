package realtime

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStreamRelaysPublishedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := NewHandler(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := chi.NewRouter()
	handler.MountRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?modules=production", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Pub/sub has no replay, so publish until the subscription is live.
	payload := `{"id":"evt-1","module":"production","entity":"work_order","action":"stage_changed","entity_id":42}`
	require.Eventually(t, func() bool {
		n, err := client.Publish(context.Background(), ChannelFor(ModuleProduction), payload).Result()
		return err == nil && n > 0
	}, 2*time.Second, 10*time.Millisecond)

	var frame strings.Builder
	timeout := time.After(3 * time.Second)
	for !strings.Contains(frame.String(), "data: ") {
		select {
		case line, open := <-lines:
			require.True(t, open, "stream closed before the event arrived")
			frame.WriteString(line)
			frame.WriteString("\n")
		case <-timeout:
			t.Fatalf("no event relayed, received so far: %q", frame.String())
		}
	}
	require.Contains(t, frame.String(), "id: evt-1")
	require.Contains(t, frame.String(), "event: production")
	require.Contains(t, frame.String(), `"entity":"work_order"`)
}

func TestStreamRequiresModules(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := NewHandler(client, nil)
	router := chi.NewRouter()
	handler.MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?modules=unknown", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseModules(t *testing.T) {
	require.Equal(t, []string{"dispatch", "qc"}, parseModules("dispatch, QC ,dispatch,unknown,"))
	require.Empty(t, parseModules(""))
	require.Empty(t, parseModules("nope"))
}
