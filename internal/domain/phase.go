package domain

// Phase is one stage of the quiz lifecycle.
type Phase string

const (
	PhaseWaiting   Phase = "WAITING"
	PhaseLobby     Phase = "LOBBY"
	PhaseCountdown Phase = "COUNTDOWN"
	PhaseQuiz      Phase = "QUIZ"
	PhaseResult    Phase = "RESULT"
	PhaseRanking   Phase = "RANKING"
	PhaseFinal     Phase = "FINAL"
)

var transitions = map[Phase][]Phase{
	PhaseWaiting:   {PhaseLobby},
	PhaseLobby:     {PhaseCountdown},
	PhaseCountdown: {PhaseQuiz},
	PhaseQuiz:      {PhaseResult},
	PhaseResult:    {PhaseRanking},
	PhaseRanking:   {PhaseQuiz, PhaseFinal},
	PhaseFinal:     nil,
}

// position orders phases inside one question round; QUIZ/RESULT/RANKING repeat per question.
var position = map[Phase]int{
	PhaseWaiting:   0,
	PhaseLobby:     1,
	PhaseCountdown: 2,
	PhaseQuiz:      3,
	PhaseResult:    4,
	PhaseRanking:   5,
	PhaseFinal:     6,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// Published reports whether entering p writes a GameStateRecord. COUNTDOWN is local to the host.
func (p Phase) Published() bool {
	return p.Valid() && p != PhaseCountdown
}

// AcceptsAnswers reports whether submissions are legal in p.
func (p Phase) AcceptsAnswers() bool {
	return p == PhaseQuiz
}

// CanAdvance reports whether to is a single legal step from from.
func CanAdvance(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can be reached from from in zero or more steps.
func Reachable(from, to Phase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	seen := map[Phase]bool{from: true}
	queue := []Phase{from}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p == to {
			return true
		}
		for _, next := range transitions[p] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Behind reports whether r describes an earlier point of the same session than applied.
// Records of a different session are never "behind"; a new session supersedes the old one.
func (r GameStateRecord) Behind(applied GameStateRecord) bool {
	if r.SessionID != applied.SessionID {
		return false
	}
	if applied.Phase == PhaseFinal && r.Phase != PhaseFinal {
		return true
	}
	if r.Phase == PhaseFinal || applied.Phase == PhaseFinal {
		return false
	}
	if r.CurrentQuestionIndex != applied.CurrentQuestionIndex {
		return r.CurrentQuestionIndex < applied.CurrentQuestionIndex
	}
	return position[r.Phase] < position[applied.Phase]
}

// Newer reports whether r was published after applied. Versions are counted per store
// instance, so they only order records of the same session, and only forward: a record of
// another session, or one whose version went backwards because the store restarted, is
// judged by its publish timestamp.
func (r GameStateRecord) Newer(applied GameStateRecord) bool {
	if r.SessionID != applied.SessionID {
		return !r.PhaseStartedAt.Before(applied.PhaseStartedAt)
	}
	if r.Version != 0 && applied.Version != 0 && r.Version > applied.Version {
		return true
	}
	if r.PhaseStartedAt.After(applied.PhaseStartedAt) {
		return true
	}
	return r.PhaseStartedAt.Equal(applied.PhaseStartedAt) && r.Version > applied.Version
}

// VersionRegressed reports whether r carries a lower store version than applied, which only
// happens when the store lost its counter (a restart of an in-memory store).
func (r GameStateRecord) VersionRegressed(applied GameStateRecord) bool {
	return r.Version != 0 && applied.Version != 0 && r.Version < applied.Version
}
