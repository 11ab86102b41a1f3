package app

import (
	"sort"
	"sync"

	"classquiz/internal/domain"
)

// Standing is a participant's place in a ranking. Delta is positive when the participant
// moved up since the committed baseline, and zero when there is no baseline for them.
type Standing struct {
	domain.Participant
	Rank         int `json:"rank"`
	PreviousRank int `json:"previousRank,omitempty"`
	Delta        int `json:"delta"`
}

// Rank orders participants by score, highest first. Equal scores keep their input order,
// so re-sorting a differently ordered input may order ties differently.
func Rank(participants []domain.Participant, previous map[string]int) []Standing {
	sorted := append([]domain.Participant(nil), participants...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	standings := make([]Standing, len(sorted))
	for i, p := range sorted {
		s := Standing{Participant: p, Rank: i + 1}
		if prev, ok := previous[p.ID]; ok {
			s.PreviousRank = prev
			s.Delta = prev - s.Rank
		}
		standings[i] = s
	}
	return standings
}

// Top returns at most n leading standings.
func Top(standings []Standing, n int) []Standing {
	if n < 0 {
		n = 0
	}
	if len(standings) < n {
		n = len(standings)
	}
	return standings[:n]
}

// Ranker computes rankings against the ranks committed at the end of the previous round.
// Rankings are derived on demand and never stored in the shared record.
type Ranker struct {
	mu       sync.Mutex
	baseline map[string]int
}

// NewRanker returns a ranker with no baseline.
func NewRanker() *Ranker {
	return &Ranker{baseline: make(map[string]int)}
}

// Rank ranks participants against the current baseline without changing it.
func (r *Ranker) Rank(participants []domain.Participant) []Standing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Rank(participants, r.baseline)
}

// Commit makes standings the baseline for the next ranking.
func (r *Ranker) Commit(standings []Standing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	baseline := make(map[string]int, len(standings))
	for _, s := range standings {
		baseline[s.ID] = s.Rank
	}
	r.baseline = baseline
}

// Reset forgets the baseline.
func (r *Ranker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseline = make(map[string]int)
}
