package domain

import "math"

// OptionStat aggregates how many answers picked one option.
type OptionStat struct {
	OptionIndex int  `json:"optionIndex"`
	Count       int  `json:"count"`
	Percentage  int  `json:"percentage"`
	IsCorrect   bool `json:"isCorrect"`
}

// OptionStats counts answers per option. Answers with an out-of-range option are ignored.
func OptionStats(answers []Answer, correctIndex int) []OptionStat {
	var counts [OptionCount]int
	total := 0
	for _, a := range answers {
		if a.SelectedOption < 0 || a.SelectedOption >= OptionCount {
			continue
		}
		counts[a.SelectedOption]++
		total++
	}

	stats := make([]OptionStat, OptionCount)
	for i, c := range counts {
		pct := 0
		if total > 0 {
			pct = int(math.Round(float64(c) / float64(total) * 100))
		}
		stats[i] = OptionStat{
			OptionIndex: i,
			Count:       c,
			Percentage:  pct,
			IsCorrect:   i == correctIndex,
		}
	}
	return stats
}
