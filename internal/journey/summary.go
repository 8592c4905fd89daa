package journey

import "github.com/osvaldoandrade/personaq/pkg/domain"

// Summarize reduces results to run counts and averages. An empty input yields
// all zeroes.
func Summarize(results []domain.TaskResult) domain.MetricsSummary {
	sum := domain.MetricsSummary{ByPersona: map[domain.Persona]domain.PersonaMetric{}}
	if len(results) == 0 {
		return sum
	}
	var duration float64
	var steps int
	for i := range results {
		r := &results[i]
		pm := sum.ByPersona[r.Persona]
		pm.Runs++
		if r.IsSuccessful {
			sum.CompletedRuns++
			pm.Completed++
		} else {
			sum.FailedRuns++
			pm.Failed++
		}
		sum.ByPersona[r.Persona] = pm
		duration += r.DurationSeconds
		steps += r.StepsCompleted
	}
	n := float64(len(results))
	sum.TotalRuns = len(results)
	sum.SuccessRate = float64(sum.CompletedRuns) / n
	sum.AvgDurationSeconds = duration / n
	sum.AvgSteps = float64(steps) / n
	return sum
}

// FilterByPersona keeps results for persona; an empty persona keeps all.
func FilterByPersona(results []domain.TaskResult, persona domain.Persona) []domain.TaskResult {
	if persona == "" {
		return results
	}
	out := make([]domain.TaskResult, 0, len(results))
	for _, r := range results {
		if r.Persona == persona {
			out = append(out, r)
		}
	}
	return out
}
