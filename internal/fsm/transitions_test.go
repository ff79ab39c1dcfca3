package fsm

import "testing"

func TestLookupKnownPair(t *testing.T) {
	tr, ok := Lookup(WaitPrimary, Primary)
	if !ok {
		t.Fatalf("expected a transition for wait_primary -> primary")
	}
	if tr.Action != ActionEnableSync {
		t.Errorf("got action %q, want %q", tr.Action, ActionEnableSync)
	}
}

func TestLookupUnknownPairFalse(t *testing.T) {
	// catchingup -> secondary is LSN-driven bookkeeping with no keeper
	// action attached, intentionally absent from the table; CommentFor
	// still produces a non-empty fallback for it (see states_test.go).
	if _, ok := Lookup(CatchingUp, Secondary); ok {
		t.Errorf("expected catchingup -> secondary to be absent from the transition table")
	}
}

func TestEveryTransitionTargetIsAValidState(t *testing.T) {
	for _, tr := range Table {
		if !Valid(tr.From) {
			t.Errorf("transition table has invalid From state %q", tr.From)
		}
		if !Valid(tr.To) {
			t.Errorf("transition table has invalid To state %q", tr.To)
		}
		if tr.Comment == "" {
			t.Errorf("transition %s -> %s has no comment", tr.From, tr.To)
		}
	}
}
