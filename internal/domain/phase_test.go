package domain

import (
	"testing"
	"time"
)

func TestCanAdvance(t *testing.T) {
	legal := [][2]Phase{
		{PhaseWaiting, PhaseLobby},
		{PhaseLobby, PhaseCountdown},
		{PhaseCountdown, PhaseQuiz},
		{PhaseQuiz, PhaseResult},
		{PhaseResult, PhaseRanking},
		{PhaseRanking, PhaseQuiz},
		{PhaseRanking, PhaseFinal},
	}
	for _, tr := range legal {
		if !CanAdvance(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be legal", tr[0], tr[1])
		}
	}

	illegal := [][2]Phase{
		{PhaseWaiting, PhaseQuiz},
		{PhaseQuiz, PhaseRanking},
		{PhaseResult, PhaseQuiz},
		{PhaseFinal, PhaseLobby},
		{PhaseLobby, PhaseLobby},
		{PhaseQuiz, Phase("BOGUS")},
	}
	for _, tr := range illegal {
		if CanAdvance(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be rejected", tr[0], tr[1])
		}
	}
}

func TestReachable(t *testing.T) {
	if !Reachable(PhaseLobby, PhaseFinal) {
		t.Fatalf("final must be reachable from lobby")
	}
	if !Reachable(PhaseRanking, PhaseResult) {
		t.Fatalf("next question's result must be reachable from ranking")
	}
	if Reachable(PhaseQuiz, PhaseLobby) {
		t.Fatalf("lobby must not be reachable once the game started")
	}
	if Reachable(PhaseFinal, PhaseQuiz) {
		t.Fatalf("final is terminal")
	}
}

func TestPublished(t *testing.T) {
	if PhaseCountdown.Published() {
		t.Fatalf("countdown is local only")
	}
	if !PhaseQuiz.Published() || !PhaseLobby.Published() {
		t.Fatalf("quiz and lobby are published")
	}
}

func TestRecordBehind(t *testing.T) {
	applied := GameStateRecord{SessionID: "s1", Phase: PhaseResult, CurrentQuestionIndex: 1}

	cases := []struct {
		name string
		rec  GameStateRecord
		want bool
	}{
		{"earlier phase same question", GameStateRecord{SessionID: "s1", Phase: PhaseQuiz, CurrentQuestionIndex: 1}, true},
		{"earlier question", GameStateRecord{SessionID: "s1", Phase: PhaseRanking, CurrentQuestionIndex: 0}, true},
		{"same record", applied, false},
		{"next question", GameStateRecord{SessionID: "s1", Phase: PhaseQuiz, CurrentQuestionIndex: 2}, false},
		{"final", GameStateRecord{SessionID: "s1", Phase: PhaseFinal, CurrentQuestionIndex: 1}, false},
		{"other session", GameStateRecord{SessionID: "s2", Phase: PhaseLobby}, false},
	}
	for _, tc := range cases {
		if got := tc.rec.Behind(applied); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	final := GameStateRecord{SessionID: "s1", Phase: PhaseFinal, CurrentQuestionIndex: 4}
	if !(GameStateRecord{SessionID: "s1", Phase: PhaseRanking, CurrentQuestionIndex: 4}).Behind(final) {
		t.Fatalf("nothing of the same session follows final")
	}
}

func TestRecordNewer(t *testing.T) {
	t0 := time.Unix(1000, 0)
	applied := GameStateRecord{SessionID: "s1", PhaseStartedAt: t0, Version: 4}

	if !(GameStateRecord{SessionID: "s1", PhaseStartedAt: t0, Version: 5}).Newer(applied) {
		t.Fatalf("higher version is newer")
	}
	if (GameStateRecord{SessionID: "s1", PhaseStartedAt: t0, Version: 3}).Newer(applied) {
		t.Fatalf("lower version with the same start is stale")
	}
	if (GameStateRecord{SessionID: "s1", PhaseStartedAt: t0.Add(-time.Second), Version: 3}).Newer(applied) {
		t.Fatalf("lower version with an earlier start is stale")
	}
	if !(GameStateRecord{PhaseStartedAt: t0.Add(time.Second)}).Newer(GameStateRecord{PhaseStartedAt: t0}) {
		t.Fatalf("later timestamp is newer without versions")
	}
	if (GameStateRecord{PhaseStartedAt: t0.Add(-time.Second)}).Newer(GameStateRecord{PhaseStartedAt: t0}) {
		t.Fatalf("older timestamp is not newer")
	}
}

func TestRecordNewerAfterStoreRestart(t *testing.T) {
	t0 := time.Unix(1000, 0)
	applied := GameStateRecord{SessionID: "s1", Phase: PhaseQuiz, PhaseStartedAt: t0, Version: 7}

	// Restarted store, same session carried on by the host.
	same := GameStateRecord{SessionID: "s1", Phase: PhaseResult, PhaseStartedAt: t0.Add(20 * time.Second), Version: 1}
	if !same.Newer(applied) || !same.VersionRegressed(applied) {
		t.Fatalf("a later record from a restarted store must apply")
	}

	// Restarted store, fresh session opened by a reset.
	fresh := GameStateRecord{SessionID: "s2", Phase: PhaseLobby, PhaseStartedAt: t0.Add(30 * time.Second), Version: 2}
	if !fresh.Newer(applied) {
		t.Fatalf("a new session must replace the old one regardless of version")
	}
	stale := GameStateRecord{SessionID: "s0", Phase: PhaseFinal, PhaseStartedAt: t0.Add(-time.Minute), Version: 9}
	if stale.Newer(applied) {
		t.Fatalf("another session's older record must not apply because of its version")
	}
	if (GameStateRecord{SessionID: "s1", Version: 8}).VersionRegressed(applied) {
		t.Fatalf("a higher version is not a regression")
	}
}
