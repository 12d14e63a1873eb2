// Package position keeps task positions dense and zero-based within a list.
//
// Every positional mutation is expressed as a Plan: a set of range shifts plus
// the slot the affected task ends up in. Stores apply a Plan as one atomic
// unit, guarded by per-list version counters.
package position

import "fmt"

// Open marks a shift range with no upper bound.
const Open = -1

// Shift moves every task in ListID whose position lies in [Min, Max] by Delta.
// Max == Open means the range runs to the end of the list.
type Shift struct {
	ListID string
	Min    int
	Max    int
	Delta  int
}

// Covers reports whether pos falls inside the shift range.
func (s Shift) Covers(pos int) bool {
	if pos < s.Min {
		return false
	}
	return s.Max == Open || pos <= s.Max
}

// Plan is the complete positional effect of one operation.
type Plan struct {
	Shifts []Shift
	// ListID and Position locate the task after the operation. Both are empty
	// for a removal.
	ListID   string
	Position int
}

// Lists returns every list the plan touches, in a stable order.
func (p Plan) Lists() []string {
	var lists []string
	seen := map[string]bool{}
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		lists = append(lists, id)
	}
	for _, shift := range p.Shifts {
		add(shift.ListID)
	}
	add(p.ListID)
	return lists
}

// Insert places a new task at `at` in a list currently holding count tasks.
// A negative at appends; values past the end are clamped to the end.
func Insert(listID string, at, count int) Plan {
	if at < 0 || at > count {
		at = count
	}
	plan := Plan{ListID: listID, Position: at}
	if at < count {
		plan.Shifts = []Shift{{ListID: listID, Min: at, Max: Open, Delta: 1}}
	}
	return plan
}

// Move relocates the task at (fromList, from). toCount is the number of tasks
// currently in toList, including the moving task when the lists are equal.
func Move(fromList string, from int, toList string, to, toCount int) (Plan, error) {
	if from < 0 {
		return Plan{}, fmt.Errorf("invalid source position %d", from)
	}
	if to < 0 {
		return Plan{}, fmt.Errorf("invalid target position %d", to)
	}

	if fromList != toList {
		if to > toCount {
			to = toCount
		}
		return Plan{
			ListID:   toList,
			Position: to,
			Shifts: []Shift{
				{ListID: fromList, Min: from + 1, Max: Open, Delta: -1},
				{ListID: toList, Min: to, Max: Open, Delta: 1},
			},
		}, nil
	}

	if last := toCount - 1; to > last {
		to = last
	}
	if to < 0 {
		to = 0
	}
	plan := Plan{ListID: toList, Position: to}
	switch {
	case from < to:
		plan.Shifts = []Shift{{ListID: toList, Min: from + 1, Max: to, Delta: -1}}
	case from > to:
		plan.Shifts = []Shift{{ListID: toList, Min: to, Max: from - 1, Delta: 1}}
	}
	return plan, nil
}

// Remove closes the gap left by deleting the task at pos.
func Remove(listID string, pos int) Plan {
	return Plan{
		Shifts: []Shift{{ListID: listID, Min: pos + 1, Max: Open, Delta: -1}},
	}
}
