package workflow

import "github.com/fentz26/conductor/internal/models"

// Batch is a run of steps dispatched together: either a maximal contiguous
// run sharing a parallel group, or a single ungrouped step.
type Batch struct {
	Start int // first step index
	End   int // one past the last step index
	Group string
}

// Len returns the number of steps in the batch.
func (b Batch) Len() int { return b.End - b.Start }

// Batches splits steps into execution batches in order.
func Batches(steps []models.Step) []Batch {
	var out []Batch
	for i := 0; i < len(steps); {
		group := steps[i].ParallelGroup
		j := i + 1
		if group != "" {
			for j < len(steps) && steps[j].ParallelGroup == group {
				j++
			}
		}
		out = append(out, Batch{Start: i, End: j, Group: group})
		i = j
	}
	return out
}

// MaxParallelism returns the size of the largest batch.
func MaxParallelism(steps []models.Step) int {
	max := 0
	for _, b := range Batches(steps) {
		if b.Len() > max {
			max = b.Len()
		}
	}
	return max
}
