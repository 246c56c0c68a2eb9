package elective

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core"
)

// buckets tracks per-group load; index 0 is group 1.
type buckets []int

func newBuckets(n int) buckets { return make(buckets, n) }

// countAssigned loads the buckets with registrations that already carry a valid group number.
func (b buckets) countAssigned(regs []Registration) {
	for _, reg := range regs {
		if reg.Group != nil && *reg.Group >= 1 && *reg.Group <= len(b) {
			b[*reg.Group-1]++
		}
	}
}

// leastLoaded returns the 0-based index of the group with the fewest members; lowest index wins ties.
func (b buckets) leastLoaded() int {
	idx := 0
	for i := 1; i < len(b); i++ {
		if b[i] < b[idx] {
			idx = i
		}
	}
	return idx
}

func (b buckets) spread() (min, max int) {
	if len(b) == 0 {
		return 0, 0
	}
	min, max = b[0], b[0]
	for _, c := range b[1:] {
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	return min, max
}

func invalidArgument(format string, args ...interface{}) error {
	return errors.Wrap(ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func checkGroupArgs(numberOfGroups, maxPerGroup int) error {
	if numberOfGroups <= 0 {
		return invalidArgument("number of groups must be positive, got %d", numberOfGroups)
	}
	if maxPerGroup <= 0 {
		return invalidArgument("max students per group must be positive, got %d", maxPerGroup)
	}
	return nil
}

// allocationLess orders registrations for allocation: by ascending priority when both have one,
// priority-bearing registrations before the others, then by earliest registration.
func allocationLess(a, b Registration) bool {
	switch {
	case a.Priority != nil && b.Priority != nil:
		if *a.Priority != *b.Priority {
			return *a.Priority < *b.Priority
		}
	case a.Priority != nil:
		return true
	case b.Priority != nil:
		return false
	}
	return a.RegisteredAt.Before(b.RegisteredAt)
}

// AllocateGroups distributes the whole candidate pool over numberOfGroups groups of at most
// maxPerGroup students each. Candidates are taken in priority then registration order and each one
// goes to the least loaded group; if that group is full the candidate stays unassigned.
//
// It returns the updated registrations (input order and cardinality are kept) and the balance
// coefficient: the size difference between the largest and the smallest group.
func AllocateGroups(regs []Registration, numberOfGroups, maxPerGroup int) ([]Registration, float64, error) {
	if err := checkGroupArgs(numberOfGroups, maxPerGroup); err != nil {
		return nil, 0, err
	}
	for _, reg := range regs {
		if reg.Priority != nil && *reg.Priority < 1 {
			return nil, 0, invalidArgument("registration %s: priority must be a positive integer, got %d", reg.ID, *reg.Priority)
		}
	}

	updated := make([]Registration, len(regs))
	order := make([]int, len(regs))
	for i, reg := range regs {
		updated[i] = reg.clone()
		updated[i].Group = nil
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return allocationLess(regs[order[i]], regs[order[j]])
	})

	groups := newBuckets(numberOfGroups)
	for _, idx := range order {
		g := groups.leastLoaded()
		if groups[g] >= maxPerGroup {
			continue
		}
		groups[g]++
		num := g + 1
		updated[idx].Group = &num
		updated[idx].Status = StatusConfirmed
	}

	min, max := groups.spread()
	return updated, float64(max - min), nil
}

// AutoFillUnassigned places every registration without a group, in input order, in the currently
// least loaded group. Already grouped registrations are never moved.
func AutoFillUnassigned(regs []Registration, numberOfGroups int) ([]Registration, error) {
	if numberOfGroups <= 0 {
		return nil, invalidArgument("number of groups must be positive, got %d", numberOfGroups)
	}

	groups := newBuckets(numberOfGroups)
	groups.countAssigned(regs)

	updated := make([]Registration, len(regs))
	for i, reg := range regs {
		updated[i] = reg.clone()
		if reg.Group != nil {
			continue
		}
		g := groups.leastLoaded()
		groups[g]++
		num := g + 1
		updated[i].Group = &num
		updated[i].Status = StatusConfirmed
	}
	return updated, nil
}

// PlaceStudent picks the group a newly registered student should join given the registrations
// already recorded for the offering. It returns ErrGroupsFull when every group holds maxPerGroup students.
func PlaceStudent(existing []Registration, numberOfGroups, maxPerGroup int) (int, error) {
	if err := checkGroupArgs(numberOfGroups, maxPerGroup); err != nil {
		return 0, err
	}
	groups := newBuckets(numberOfGroups)
	groups.countAssigned(existing)
	g := groups.leastLoaded()
	if groups[g] >= maxPerGroup {
		return 0, ErrGroupsFull
	}
	return g + 1, nil
}

// releaseStranded returns, unassigned and pending, the registrations whose group no longer exists
// and the latest registered members of groups holding more than maxPerGroup.
func releaseStranded(regs []Registration, numberOfGroups, maxPerGroup int) []Registration {
	released := make([]Registration, 0)
	release := func(reg Registration) {
		r := reg.clone()
		r.Group = nil
		r.Status = StatusPending
		released = append(released, r)
	}

	members := make(map[int][]Registration, numberOfGroups)
	for _, reg := range regs {
		if reg.Group == nil {
			continue
		}
		if g := *reg.Group; g < 1 || g > numberOfGroups {
			release(reg)
		} else {
			members[g] = append(members[g], reg)
		}
	}
	for g := 1; g <= numberOfGroups; g++ {
		group := members[g]
		if len(group) <= maxPerGroup {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].RegisteredAt.Before(group[j].RegisteredAt) })
		for _, reg := range group[maxPerGroup:] {
			release(reg)
		}
	}
	return released
}

// Balance reports the number of students per group and the balance coefficient.
func Balance(regs []Registration, numberOfGroups int) GroupBalance {
	groups := newBuckets(numberOfGroups)
	groups.countAssigned(regs)

	counts := make([]GroupCount, 0, numberOfGroups)
	for i, c := range groups {
		counts = append(counts, GroupCount{Number: i + 1, Students: c})
	}
	min, max := groups.spread()
	return GroupBalance{
		Groups:      counts,
		Min:         min,
		Max:         max,
		Coefficient: float64(max - min),
	}
}

// ApplyChangeset applies manual group edits to a snapshot and returns the registrations that
// changed. The whole changeset is rejected if any group ends up out of range or over capacity.
func ApplyChangeset(snapshot []Registration, cs Changeset, numberOfGroups, maxPerGroup int) ([]Registration, error) {
	if err := checkGroupArgs(numberOfGroups, maxPerGroup); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(snapshot))
	for i, reg := range snapshot {
		index[reg.ID] = i
	}

	var fldErrs []core.FieldError
	for id, group := range cs {
		if _, ok := index[id]; !ok {
			fldErrs = append(fldErrs, core.FieldError{Field: id, Error: "registration not found"})
			continue
		}
		if group != nil && (*group < 1 || *group > numberOfGroups) {
			fldErrs = append(fldErrs, core.FieldError{
				Field: id,
				Error: fmt.Sprintf("group must be between 1 and %d", numberOfGroups),
			})
		}
	}
	if fldErrs != nil {
		sort.Slice(fldErrs, func(i, j int) bool { return fldErrs[i].Field < fldErrs[j].Field })
		return nil, core.NewValidationError(errors.New("invalid group changes"), fldErrs...)
	}

	next := make([]Registration, len(snapshot))
	for i, reg := range snapshot {
		next[i] = reg.clone()
	}
	for id, group := range cs {
		reg := &next[index[id]]
		if group == nil {
			reg.Group = nil
			reg.Status = StatusPending
			continue
		}
		g := *group
		reg.Group = &g
		reg.Status = StatusConfirmed
	}

	groups := newBuckets(numberOfGroups)
	groups.countAssigned(next)
	for i, c := range groups {
		if c > maxPerGroup {
			fldErrs = append(fldErrs, core.FieldError{
				Field: fmt.Sprintf("group %d", i+1),
				Error: fmt.Sprintf("group holds %d students, at most %d allowed", c, maxPerGroup),
			})
		}
	}
	if fldErrs != nil {
		return nil, core.NewValidationError(errors.New("group capacity exceeded"), fldErrs...)
	}

	changed := make([]Registration, 0, len(cs))
	for i, reg := range next {
		if !sameGroup(reg.Group, snapshot[i].Group) || reg.Status != snapshot[i].Status {
			changed = append(changed, reg)
		}
	}
	return changed, nil
}

func sameGroup(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
