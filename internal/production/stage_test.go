package production

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAdvance(t *testing.T) {
	cases := []struct {
		name string
		from Stage
		to   Stage
		ok   bool
	}{
		{"next stage", StagePlanned, StageMaterialReady, true},
		{"skip external", StageInProduction, StageFinalQC, true},
		{"through external", StageInProduction, StageExternal, true},
		{"external to qc", StageExternal, StageFinalQC, true},
		{"jump ahead", StagePlanned, StageFinalQC, true},
		{"backwards", StageFinalQC, StageInProduction, false},
		{"same stage", StagePacking, StagePacking, false},
		{"into dispatched", StageReady, StageDispatched, false},
		{"into completed", StageReady, StageCompleted, false},
		{"from completed", StageCompleted, StageCancelled, false},
		{"from cancelled", StageCancelled, StageInProduction, false},
		{"unknown target", StagePlanned, Stage("MELTING"), false},
		{"into cancelled", StagePlanned, StageCancelled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAdvance(tc.from, tc.to)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidStage)
			}
		})
	}
}

func TestStageIndexOrder(t *testing.T) {
	require.True(t, StageCompleted.After(StagePlanned))
	require.True(t, StageFinalQC.After(StageExternal))
	require.False(t, StagePlanned.After(StagePlanned))
	require.Equal(t, -1, StageCancelled.Index())
	require.Equal(t, -1, Stage("UNKNOWN").Index())
}

func TestBatchStatusDerivation(t *testing.T) {
	cases := []struct {
		name  string
		batch Batch
		want  BatchStatus
	}{
		{"fresh", Batch{ProducedQty: 100}, BatchPendingQC},
		{"partial qc", Batch{ProducedQty: 100, ApprovedQty: 40}, BatchPartialQC},
		{"qc complete", Batch{ProducedQty: 100, ApprovedQty: 95, RejectedQty: 5, QCComplete: true}, BatchQCComplete},
		{"all rejected", Batch{ProducedQty: 100, RejectedQty: 100, QCComplete: true}, BatchRejected},
		{"fully packed", Batch{ProducedQty: 100, ApprovedQty: 95, RejectedQty: 5, QCComplete: true, PackedQty: 95}, BatchPacked},
		{"dispatched", Batch{ProducedQty: 100, ApprovedQty: 95, RejectedQty: 5, QCComplete: true, PackedQty: 95, DispatchedQty: 95}, BatchDispatched},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.batch.Status())
		})
	}
}

func TestAvailableToPack(t *testing.T) {
	b := Batch{ApprovedQty: 95, PackedQty: 40}
	require.Equal(t, int64(55), b.AvailableToPack())

	b.PackedQty = 95
	require.Zero(t, b.AvailableToPack())
}

func TestMaxProducible(t *testing.T) {
	require.Equal(t, int64(1050), MaxProducible(1000))
	require.Equal(t, int64(10), MaxProducible(10))
	require.Equal(t, int64(105), MaxProducible(100))
}
