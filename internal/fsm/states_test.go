package fsm

import "testing"

func TestIsWritable(t *testing.T) {
	writable := []State{Single, WaitPrimary, Primary, JoinPrimary, ApplySettings}
	for _, s := range writable {
		if !IsWritable(s) {
			t.Errorf("expected %s to be writable", s)
		}
	}

	notWritable := []State{Init, WaitStandby, CatchingUp, Secondary, ReportLSN, Dropped}
	for _, s := range notWritable {
		if IsWritable(s) {
			t.Errorf("expected %s to not be writable", s)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(Dropped) {
		t.Errorf("dropped should be terminal")
	}
	if IsTerminal(Primary) {
		t.Errorf("primary should not be terminal")
	}
}

func TestValid(t *testing.T) {
	if !Valid(Primary) {
		t.Errorf("primary should be valid")
	}
	if Valid(State("bogus")) {
		t.Errorf("bogus should not be valid")
	}
}

func TestCommentForFallback(t *testing.T) {
	if CommentFor(CatchingUp, Secondary) == "" {
		t.Errorf("expected non-empty comment")
	}
	if CommentFor(State("x"), State("y")) != "state transition" {
		t.Errorf("expected fallback comment")
	}
}
