package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort is the storage surface the service needs.
type RepositoryPort interface {
	Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, int, error)
	Stream(ctx context.Context, filters TimelineFilters, fn func(Entry) error) error
}

// Service serves the audit timeline. Writes happen elsewhere, through
// shared.AuditLogger; this side only reads.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Timeline returns a filtered page of entries.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 200 {
		filters.Limit = 200
	}
	return s.repo.Timeline(ctx, filters)
}

// ExportTimeline streams matching entries as CSV, oldest first.
func (s *Service) ExportTimeline(ctx context.Context, w io.Writer, filters TimelineFilters) error {
	streamer := shared.NewCSVStreamer(w)
	if err := streamer.WriteComment("# Audit Timeline"); err != nil {
		return err
	}
	if desc := describeFilters(filters); desc != "" {
		if err := streamer.WriteComment("# " + desc); err != nil {
			return err
		}
	}
	if err := streamer.WriteComment(fmt.Sprintf("# Generated %s", s.now().UTC().Format(time.RFC3339))); err != nil {
		return err
	}
	if err := streamer.WriteRow([]string{"Time", "Actor", "Action", "Entity", "Entity ID", "Meta"}); err != nil {
		return err
	}

	err := s.repo.Stream(ctx, filters, func(e Entry) error {
		actor := e.ActorName
		if actor == "" {
			actor = fmt.Sprintf("operator-%d", e.ActorID)
		}
		meta := ""
		if len(e.Meta) > 0 {
			raw, err := json.Marshal(e.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		return streamer.WriteRow([]string{
			e.At.UTC().Format(time.RFC3339),
			actor,
			e.Action,
			e.Entity,
			fmt.Sprintf("%d", e.EntityID),
			meta,
		})
	})
	if err != nil {
		return err
	}
	return streamer.Close()
}

func describeFilters(filters TimelineFilters) string {
	desc := ""
	if filters.Entity != "" {
		desc += fmt.Sprintf("Entity %s ", filters.Entity)
		if filters.EntityID > 0 {
			desc += fmt.Sprintf("#%d ", filters.EntityID)
		}
	}
	if filters.Action != "" {
		desc += fmt.Sprintf("Action %s ", filters.Action)
	}
	if filters.ActorID > 0 {
		desc += fmt.Sprintf("Actor #%d ", filters.ActorID)
	}
	if filters.From != nil {
		desc += fmt.Sprintf("From %s ", filters.From.Format("2006-01-02"))
	}
	if filters.To != nil {
		desc += fmt.Sprintf("To %s ", filters.To.Format("2006-01-02"))
	}
	if desc == "" {
		return ""
	}
	return desc[:len(desc)-1]
}
