// Package integration fans module change notifications out to the
// dashboard cache, the realtime stream and process metrics. Services see
// only their own narrow IntegrationHandler interface; this is the one
// place that implements them all.
package integration

import (
	"context"
	"log/slog"
	"strings"

	"github.com/izzyftw1/rvi-sub014/internal/dispatch"
	"github.com/izzyftw1/rvi-sub014/internal/external"
	"github.com/izzyftw1/rvi-sub014/internal/finance"
	"github.com/izzyftw1/rvi-sub014/internal/masterdata"
	"github.com/izzyftw1/rvi-sub014/internal/packing"
	"github.com/izzyftw1/rvi-sub014/internal/procurement"
	"github.com/izzyftw1/rvi-sub014/internal/production"
	"github.com/izzyftw1/rvi-sub014/internal/qc"
	"github.com/izzyftw1/rvi-sub014/internal/realtime"
	"github.com/izzyftw1/rvi-sub014/internal/sales"
	"github.com/izzyftw1/rvi-sub014/internal/she"
)

// Publisher sends change events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event realtime.Event) error
}

// SnapshotInvalidator marks the cached dashboard snapshot stale.
type SnapshotInvalidator interface {
	Bump(ctx context.Context) error
}

// MetricsPort counts domain events.
type MetricsPort interface {
	ObserveStageTransition(stage string)
	ObserveCartonPacked()
}

// Hooks implements every module's IntegrationHandler. Failures here must
// never fail the write that triggered them; they are logged and dropped.
type Hooks struct {
	logger   *slog.Logger
	events   Publisher
	snapshot SnapshotInvalidator
	metrics  MetricsPort
}

var (
	_ masterdata.IntegrationHandler  = (*Hooks)(nil)
	_ sales.IntegrationHandler       = (*Hooks)(nil)
	_ procurement.IntegrationHandler = (*Hooks)(nil)
	_ production.IntegrationHandler  = (*Hooks)(nil)
	_ qc.IntegrationHandler          = (*Hooks)(nil)
	_ external.IntegrationHandler    = (*Hooks)(nil)
	_ packing.IntegrationHandler     = (*Hooks)(nil)
	_ dispatch.IntegrationHandler    = (*Hooks)(nil)
	_ finance.IntegrationHandler     = (*Hooks)(nil)
	_ she.IntegrationHandler         = (*Hooks)(nil)
)

// NewHooks constructs the fan-out. Any dependency may be nil.
func NewHooks(logger *slog.Logger, events Publisher, snapshot SnapshotInvalidator, metrics MetricsPort) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{logger: logger, events: events, snapshot: snapshot, metrics: metrics}
}

// emit publishes the change event and, when the write can move a dashboard
// number, bumps the snapshot version.
func (h *Hooks) emit(ctx context.Context, module, entity string, id int64, action string, bump bool) {
	if h == nil {
		return
	}
	if h.events != nil {
		err := h.events.Publish(ctx, realtime.Event{
			Module:   module,
			Entity:   entity,
			Action:   action,
			EntityID: id,
		})
		if err != nil {
			h.logger.Warn("publish change event",
				slog.String("module", module), slog.String("action", action), slog.Any("error", err))
		}
	}
	if bump && h.snapshot != nil {
		if err := h.snapshot.Bump(ctx); err != nil {
			h.logger.Warn("bump dashboard snapshot", slog.Any("error", err))
		}
	}
}

// OnMasterdataChanged relays part, customer and partner edits.
func (h *Hooks) OnMasterdataChanged(ctx context.Context, entity string, id int64, action string) {
	h.emit(ctx, realtime.ModuleMasterdata, entity, id, action, false)
}

// OnSalesOrderChanged relays sales order life cycle changes.
func (h *Hooks) OnSalesOrderChanged(ctx context.Context, orderID int64, action string) {
	h.emit(ctx, realtime.ModuleSales, "sales_order", orderID, action, false)
}

// OnRPOChanged relays raw material purchase order changes.
func (h *Hooks) OnRPOChanged(ctx context.Context, rpoID int64, action string) {
	h.emit(ctx, realtime.ModuleProcurement, "rpo", rpoID, action, false)
}

// OnWorkOrderChanged relays work order changes and counts stage moves.
func (h *Hooks) OnWorkOrderChanged(ctx context.Context, woID int64, action string) {
	if h != nil && h.metrics != nil {
		if stage, ok := strings.CutPrefix(action, "stage:"); ok {
			h.metrics.ObserveStageTransition(stage)
		}
	}
	h.emit(ctx, realtime.ModuleProduction, "work_order", woID, action, true)
}

// OnInspectionRecorded relays a recorded inspection.
func (h *Hooks) OnInspectionRecorded(ctx context.Context, inspectionID int64) {
	h.emit(ctx, realtime.ModuleQC, "inspection", inspectionID, "recorded", true)
}

// OnNCRChanged relays NCR life cycle changes.
func (h *Hooks) OnNCRChanged(ctx context.Context, ncrID int64, action string) {
	h.emit(ctx, realtime.ModuleQC, "ncr", ncrID, action, true)
}

// OnMoveChanged relays external processing challan changes.
func (h *Hooks) OnMoveChanged(ctx context.Context, moveID int64, action string) {
	h.emit(ctx, realtime.ModuleExternal, "move", moveID, action, true)
}

// OnCartonChanged relays carton changes and counts packs.
func (h *Hooks) OnCartonChanged(ctx context.Context, cartonID int64, action string) {
	if h != nil && h.metrics != nil && action == "packed" {
		h.metrics.ObserveCartonPacked()
	}
	h.emit(ctx, realtime.ModulePacking, "carton", cartonID, action, true)
}

// OnDispatchChanged relays dispatch note changes.
func (h *Hooks) OnDispatchChanged(ctx context.Context, dispatchID int64, action string) {
	h.emit(ctx, realtime.ModuleDispatch, "dispatch", dispatchID, action, true)
}

// OnInvoiceChanged relays invoice and payment changes.
func (h *Hooks) OnInvoiceChanged(ctx context.Context, invoiceID int64, action string) {
	h.emit(ctx, realtime.ModuleFinance, "invoice", invoiceID, action, true)
}

// OnIncidentChanged relays SHE incident changes.
func (h *Hooks) OnIncidentChanged(ctx context.Context, incidentID int64, action string) {
	h.emit(ctx, realtime.ModuleSHE, "incident", incidentID, action, true)
}
