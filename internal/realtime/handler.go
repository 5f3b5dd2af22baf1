package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const defaultHeartbeat = 25 * time.Second

var knownModules = map[string]bool{
	ModuleMasterdata:  true,
	ModuleSales:       true,
	ModuleProcurement: true,
	ModuleProduction:  true,
	ModuleQC:          true,
	ModuleExternal:    true,
	ModulePacking:     true,
	ModuleDispatch:    true,
	ModuleFinance:     true,
	ModuleSHE:         true,
}

// Handler relays module change events to SSE clients.
type Handler struct {
	client    *redis.Client
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewHandler constructs the event stream handler.
func NewHandler(client *redis.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger, heartbeat: defaultHeartbeat}
}

// MountRoutes attaches the event stream endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stream", h.stream)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	modules := parseModules(r.URL.Query().Get("modules"))
	if len(modules) == 0 {
		http.Error(w, "modules query parameter required", http.StatusBadRequest)
		return
	}
	channels := make([]string, len(modules))
	for i, m := range modules {
		channels[i] = ChannelFor(m)
	}

	pubsub := h.client.Subscribe(r.Context(), channels...)
	defer func() { _ = pubsub.Close() }()

	// The server write timeout would sever the stream; lift it for this
	// connection and rely on heartbeat failures to detect dead clients.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := pubsub.Channel()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, open := <-ch:
			if !open {
				return
			}
			module := strings.TrimPrefix(msg.Channel, channelPrefix)
			var meta struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal([]byte(msg.Payload), &meta)
			if meta.ID != "" {
				_, _ = fmt.Fprintf(w, "id: %s\n", meta.ID)
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", module, msg.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseModules(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" || seen[p] || !knownModules[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
