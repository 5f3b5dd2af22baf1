package production

import "fmt"

// Stage is a work order's position in the fixed shop-floor flow.
type Stage string

const (
	StagePlanned       Stage = "PLANNED"
	StageMaterialReady Stage = "MATERIAL_READY"
	StageInProduction  Stage = "IN_PRODUCTION"
	StageExternal      Stage = "EXTERNAL_PROCESS"
	StageFinalQC       Stage = "FINAL_QC"
	StagePacking       Stage = "PACKING"
	StageReady         Stage = "READY_TO_DISPATCH"
	StageDispatched    Stage = "DISPATCHED"
	StageCompleted     Stage = "COMPLETED"

	// StageCancelled is terminal and sits outside the ordered flow.
	StageCancelled Stage = "CANCELLED"
)

// stageOrder fixes the forward sequence. EXTERNAL_PROCESS is optional for
// parts without outside operations; any strictly later target is reachable.
var stageOrder = []Stage{
	StagePlanned,
	StageMaterialReady,
	StageInProduction,
	StageExternal,
	StageFinalQC,
	StagePacking,
	StageReady,
	StageDispatched,
	StageCompleted,
}

// Index returns the stage's position in the flow, -1 for CANCELLED or
// unknown values.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// After reports whether s comes strictly after other in the flow.
func (s Stage) After(other Stage) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si > oi
}

// Terminal reports whether no further stage changes are possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// ValidateAdvance checks a manually requested stage move. DISPATCHED and
// COMPLETED are entered only by the dispatch cascade.
func ValidateAdvance(from, to Stage) error {
	if to.Index() < 0 {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidStage, to)
	}
	if to == StageDispatched || to == StageCompleted {
		return fmt.Errorf("%w: %s is entered by dispatch", ErrInvalidStage, to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: work order is %s", ErrInvalidStage, from)
	}
	if !to.After(from) {
		return fmt.Errorf("%w: %s does not follow %s", ErrInvalidStage, to, from)
	}
	return nil
}
