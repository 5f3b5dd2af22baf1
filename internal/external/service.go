package external

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Move, error)
	List(ctx context.Context, filters ListFilters) ([]Move, int, error)
}

// Processor is the partner projection external needs.
type Processor struct {
	ID      int64
	Name    string
	Process string
	SLADays int
}

// PartnerPort resolves processor partners.
type PartnerPort interface {
	Processor(ctx context.Context, partnerID int64) (Processor, bool, error)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnMoveChanged(ctx context.Context, moveID int64, action string)
}

// Service orchestrates material movement to and from external processors.
type Service struct {
	repo        RepositoryPort
	partners    PartnerPort
	audit       AuditPort
	integration IntegrationHandler
	now         func() time.Time
}

// NewService constructs the external-processing service. audit and
// integration may be nil.
func NewService(repo RepositoryPort, partners PartnerPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, partners: partners, audit: audit, integration: integration, now: time.Now}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, moveID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "external_move",
			EntityID: moveID,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func (s *Service) notify(ctx context.Context, moveID int64, action string) {
	if s.integration != nil {
		s.integration.OnMoveChanged(ctx, moveID, action)
	}
}

// SendInput carries a new challan.
type SendInput struct {
	BatchID        int64
	PartnerID      int64
	Process        string
	Qty            int64
	SentDate       time.Time
	ExpectedReturn time.Time
	Vehicle        string
	Notes          string
}

// Send despatches batch material to a processor. The quantity is checked
// against what the batch still has in house, counting every open challan.
func (s *Service) Send(ctx context.Context, actorID int64, in SendInput) (Move, error) {
	if in.Qty <= 0 {
		return Move{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}

	proc, ok, err := s.partners.Processor(ctx, in.PartnerID)
	if err != nil {
		return Move{}, err
	}
	if !ok {
		return Move{}, fmt.Errorf("%w: partner %d is not an active processor", shared.ErrValidation, in.PartnerID)
	}

	process := strings.ToUpper(strings.TrimSpace(in.Process))
	if process == "" {
		process = proc.Process
	}
	if process == "" {
		return Move{}, fmt.Errorf("%w: process required", shared.ErrValidation)
	}

	sentDate := in.SentDate
	if sentDate.IsZero() {
		sentDate = s.now().UTC()
	}
	expected := in.ExpectedReturn
	if expected.IsZero() {
		sla := proc.SLADays
		if sla <= 0 {
			sla = defaultSLADays
		}
		expected = sentDate.AddDate(0, 0, sla)
	}
	if expected.Before(sentDate) {
		return Move{}, fmt.Errorf("%w: expected return before sent date", shared.ErrValidation)
	}

	var moveID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.LockBatch(ctx, in.BatchID)
		if err != nil {
			return err
		}
		out, err := tx.OutstandingForBatch(ctx, in.BatchID)
		if err != nil {
			return err
		}
		if in.Qty > batch.ProducedQty-out {
			return fmt.Errorf("%w: batch %s has %d in house", ErrOverAvailable,
				batch.BatchNumber, batch.ProducedQty-out)
		}
		number, err := tx.NextDocNumber(ctx, "CH", sentDate)
		if err != nil {
			return err
		}
		moveID, err = tx.InsertMove(ctx, Move{
			ChallanNumber:  number,
			WOID:           batch.WOID,
			BatchID:        in.BatchID,
			PartnerID:      in.PartnerID,
			Process:        process,
			SentQty:        in.Qty,
			SentDate:       sentDate,
			ExpectedReturn: expected,
			Vehicle:        strings.TrimSpace(in.Vehicle),
			Status:         StatusSent,
			Notes:          in.Notes,
			CreatedBy:      actorID,
		})
		return err
	})
	if err != nil {
		return Move{}, err
	}

	s.recordAudit(ctx, actorID, "external:move_send", moveID, map[string]any{
		"batch_id": in.BatchID, "partner_id": in.PartnerID, "qty": in.Qty, "process": process,
	})
	s.notify(ctx, moveID, "sent")
	return s.repo.Get(ctx, moveID)
}

// ReturnInput carries a GRN against a move.
type ReturnInput struct {
	ReceivedQty  int64
	RejectedQty  int64
	ReceivedDate time.Time
	Notes        string
}

// RecordReturn books material coming back from the processor. Cumulative
// received plus process-rejected can never exceed the quantity sent.
func (s *Service) RecordReturn(ctx context.Context, actorID, moveID int64, in ReturnInput) (Move, error) {
	if in.ReceivedQty < 0 || in.RejectedQty < 0 {
		return Move{}, fmt.Errorf("%w: quantities must not be negative", shared.ErrValidation)
	}
	if in.ReceivedQty+in.RejectedQty == 0 {
		return Move{}, fmt.Errorf("%w: nothing returned", shared.ErrValidation)
	}
	receivedDate := in.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = s.now().UTC()
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		move, err := tx.LockMove(ctx, moveID)
		if err != nil {
			return err
		}
		if move.Status != StatusSent && move.Status != StatusPartiallyReturned {
			return fmt.Errorf("%w: challan %s is %s", ErrInvalidState, move.ChallanNumber, move.Status)
		}
		received := move.ReceivedQty + in.ReceivedQty
		rejected := move.RejectedQty + in.RejectedQty
		if received+rejected > move.SentQty {
			return fmt.Errorf("%w: challan %s sent %d", ErrOverReturn, move.ChallanNumber, move.SentQty)
		}
		number, err := tx.NextDocNumber(ctx, "GRN", receivedDate)
		if err != nil {
			return err
		}
		if _, err := tx.InsertReturn(ctx, Return{
			GRNNumber:    number,
			MoveID:       moveID,
			ReceivedQty:  in.ReceivedQty,
			RejectedQty:  in.RejectedQty,
			ReceivedDate: receivedDate,
			Notes:        in.Notes,
			CreatedBy:    actorID,
		}); err != nil {
			return err
		}
		status := StatusPartiallyReturned
		if received+rejected == move.SentQty {
			status = StatusReturned
		}
		return tx.UpdateMoveTotals(ctx, moveID, received, rejected, status)
	})
	if err != nil {
		return Move{}, err
	}

	s.recordAudit(ctx, actorID, "external:return_record", moveID, map[string]any{
		"received": in.ReceivedQty, "rejected": in.RejectedQty,
	})
	s.notify(ctx, moveID, "return")
	return s.repo.Get(ctx, moveID)
}

// Close marks a fully returned challan closed.
func (s *Service) Close(ctx context.Context, actorID, moveID int64) (Move, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		move, err := tx.LockMove(ctx, moveID)
		if err != nil {
			return err
		}
		if move.Status != StatusReturned || move.Outstanding() != 0 {
			return fmt.Errorf("%w: challan %s still has %d outstanding", ErrInvalidState,
				move.ChallanNumber, move.Outstanding())
		}
		return tx.UpdateMoveStatus(ctx, moveID, StatusClosed)
	})
	if err != nil {
		return Move{}, err
	}
	s.recordAudit(ctx, actorID, "external:move_close", moveID, nil)
	s.notify(ctx, moveID, "closed")
	return s.repo.Get(ctx, moveID)
}

// Cancel voids a challan before anything has come back.
func (s *Service) Cancel(ctx context.Context, actorID, moveID int64) (Move, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		move, err := tx.LockMove(ctx, moveID)
		if err != nil {
			return err
		}
		if move.Status != StatusSent || move.ReceivedQty > 0 || move.RejectedQty > 0 {
			return fmt.Errorf("%w: challan %s already has returns", ErrInvalidState, move.ChallanNumber)
		}
		return tx.UpdateMoveStatus(ctx, moveID, StatusCancelled)
	})
	if err != nil {
		return Move{}, err
	}
	s.recordAudit(ctx, actorID, "external:move_cancel", moveID, nil)
	s.notify(ctx, moveID, "cancelled")
	return s.repo.Get(ctx, moveID)
}

// Get fetches one move with returns.
func (s *Service) Get(ctx context.Context, id int64) (Move, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of moves.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Move, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 200 {
		filters.Limit = 200
	}
	return s.repo.List(ctx, filters)
}

// Overdue builds the late-material report, worst moves first, with a
// per-partner rollup.
func (s *Service) Overdue(ctx context.Context) (OverdueReport, error) {
	moves, _, err := s.repo.List(ctx, ListFilters{Overdue: true})
	if err != nil {
		return OverdueReport{}, err
	}
	now := s.now()

	report := OverdueReport{Moves: []OverdueMove{}, Partners: []PartnerOverdue{}}
	rollup := map[int64]*PartnerOverdue{}
	for _, m := range moves {
		days := m.DaysOverdue(now)
		if days < overdueWarnDays {
			continue
		}
		report.Moves = append(report.Moves, OverdueMove{
			Move:         m,
			DaysLate:     days,
			SeverityFlag: m.Severity(now),
		})
		p, ok := rollup[m.PartnerID]
		if !ok {
			p = &PartnerOverdue{PartnerID: m.PartnerID, PartnerName: m.PartnerName}
			rollup[m.PartnerID] = p
		}
		p.MoveCount++
		p.Outstanding += m.Outstanding()
		if days > p.WorstDays {
			p.WorstDays = days
		}
	}

	sort.Slice(report.Moves, func(i, j int) bool {
		return report.Moves[i].DaysLate > report.Moves[j].DaysLate
	})
	for _, p := range rollup {
		switch {
		case p.WorstDays >= overdueCriticalDays:
			p.Severity = OverdueCritical
		default:
			p.Severity = OverdueWarn
		}
		report.Partners = append(report.Partners, *p)
	}
	sort.Slice(report.Partners, func(i, j int) bool {
		if report.Partners[i].WorstDays != report.Partners[j].WorstDays {
			return report.Partners[i].WorstDays > report.Partners[j].WorstDays
		}
		return report.Partners[i].PartnerID < report.Partners[j].PartnerID
	})
	return report, nil
}
