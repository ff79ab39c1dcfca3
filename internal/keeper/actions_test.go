package keeper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"postgrespro.ru/pgautofailover/internal/fsm"
)

func TestSlotNameIsDeterministic(t *testing.T) {
	assert.Equal(t, "pgautofailover_standby_3", SlotName(3))
	assert.Equal(t, SlotName(3), SlotName(3))
	assert.NotEqual(t, SlotName(3), SlotName(4))
}

func TestActionsRun_NoopAndReportLSNNeedNoConnection(t *testing.T) {
	a := NewActions(nil)
	assert.NoError(t, a.Run(fsm.ActionNoop, nil))
	assert.NoError(t, a.Run(fsm.ActionReportLSN, []int64{1, 2}))
}

func TestActionsRun_UnknownActionIsAnError(t *testing.T) {
	a := NewActions(nil)
	err := a.Run(fsm.Action("bogus"), nil)
	assert.Error(t, err)
}
