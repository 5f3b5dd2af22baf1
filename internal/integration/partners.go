package integration

import (
	"context"
	"errors"

	"github.com/izzyftw1/rvi-sub014/internal/dispatch"
	"github.com/izzyftw1/rvi-sub014/internal/external"
	"github.com/izzyftw1/rvi-sub014/internal/masterdata"
	"github.com/izzyftw1/rvi-sub014/internal/procurement"
	"github.com/izzyftw1/rvi-sub014/internal/qc"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// PartnerDirectory adapts masterdata partner lookups to the narrow role
// checks the workflow services declare. A missing or inactive partner is
// reported as absent, never as an error.
type PartnerDirectory struct {
	Masterdata masterdata.Service
}

var (
	_ procurement.SupplierPort = PartnerDirectory{}
	_ qc.PartnerPort           = PartnerDirectory{}
	_ external.PartnerPort     = PartnerDirectory{}
	_ dispatch.PartnerPort     = PartnerDirectory{}
)

func (d PartnerDirectory) partner(ctx context.Context, id int64) (masterdata.Partner, bool, error) {
	if d.Masterdata == nil || id <= 0 {
		return masterdata.Partner{}, false, nil
	}
	p, err := d.Masterdata.GetPartner(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return masterdata.Partner{}, false, nil
	}
	if err != nil {
		return masterdata.Partner{}, false, err
	}
	return p, p.Active, nil
}

// IsSupplier reports whether the partner is an active raw material supplier.
func (d PartnerDirectory) IsSupplier(ctx context.Context, partnerID int64) (bool, error) {
	p, ok, err := d.partner(ctx, partnerID)
	if err != nil || !ok {
		return false, err
	}
	return p.Type == masterdata.PartnerSupplier, nil
}

// IsProcessor reports whether the partner is an active outside processor.
func (d PartnerDirectory) IsProcessor(ctx context.Context, partnerID int64) (bool, error) {
	p, ok, err := d.partner(ctx, partnerID)
	if err != nil || !ok {
		return false, err
	}
	return p.Type == masterdata.PartnerProcessor, nil
}

// Processor returns the processor projection external moves carry.
func (d PartnerDirectory) Processor(ctx context.Context, partnerID int64) (external.Processor, bool, error) {
	p, ok, err := d.partner(ctx, partnerID)
	if err != nil || !ok {
		return external.Processor{}, false, err
	}
	if p.Type != masterdata.PartnerProcessor {
		return external.Processor{}, false, nil
	}
	return external.Processor{
		ID:      p.ID,
		Name:    p.Name,
		Process: p.Process,
		SLADays: p.SLADays,
	}, true, nil
}

// IsTransporter reports whether the partner is an active transporter.
func (d PartnerDirectory) IsTransporter(ctx context.Context, id int64) (bool, error) {
	p, ok, err := d.partner(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return p.Type == masterdata.PartnerTransporter, nil
}
