package corevk

import vk "github.com/vulkan-go/vulkan"

// QueueStrategy selects the scoring bias used by Queue.Request
// (spec.md §4.1).
type QueueStrategy int

const (
	// StrategyExact requires the family's capability set to equal the
	// requested set exactly.
	StrategyExact QueueStrategy = iota
	// StrategyPreferDedicated penalizes families with capabilities
	// beyond what was requested (prefers a narrow, dedicated family).
	StrategyPreferDedicated
	// StrategyPreferShared rewards families with extra capabilities
	// (prefers reusing an already-broad family over spinning up a
	// dedicated one).
	StrategyPreferShared
	// StrategyMinimal picks the first family that is a fit at all.
	StrategyMinimal
)

// QueueRequest describes the capability search spec.md §4.1's scoring
// table operates over.
type QueueRequest struct {
	RequiredCaps         vk.QueueFlags
	PreferredCaps         vk.QueueFlags
	Strategy              QueueStrategy
	PreferSeparateFamily   bool
	// ExcludeFamilies lets callers ask for a family distinct from ones
	// already bound (e.g. asking for a transfer queue separate from
	// the direct queue already selected for the renderer).
	ExcludeFamilies []uint32
}

// queueFamily mirrors the teacher's CoreQueue properties slice
// (queue.go) plus presentation support, gathered once at Context
// construction.
type queueFamily struct {
	index          uint32
	caps           vk.QueueFlags
	count          uint32
	supportsPresent bool
	bound          bool
}

// QueueFamilySelection is the result of Queue.Request: a family index
// plus a queue to create/acquire from it.
type QueueFamilySelection struct {
	FamilyIndex uint32
	Caps        vk.QueueFlags
}

// scoreFamily implements the exact scoring function of spec.md §4.1:
//
//	base 100 if required ⊆ family
//	+30 for full match of preferred
//	+(5·popcount(family ∩ preferred)) otherwise
//	±10·popcount adjustments per strategy
//	+2 if family supports present
//
// Returns ok=false if the family doesn't even satisfy RequiredCaps.
func scoreFamily(f queueFamily, req QueueRequest) (score int, ok bool) {
	required := uint32(req.RequiredCaps)
	preferred := uint32(req.PreferredCaps)
	caps := uint32(f.caps)

	if caps&required != required {
		return 0, false
	}
	if req.Strategy == StrategyExact && caps != required {
		return 0, false
	}

	score = 100

	extra := caps &^ required
	if preferred != 0 {
		if caps&preferred == preferred {
			score += 30
		} else {
			score += 5 * popcount(caps&preferred)
		}
	}

	switch req.Strategy {
	case StrategyPreferDedicated:
		score -= 10 * popcount(extra)
	case StrategyPreferShared:
		score += 10 * popcount(extra)
	case StrategyMinimal, StrategyExact:
		// no popcount adjustment
	}

	if f.supportsPresent {
		score += 2
	}
	return score, true
}

// queueSelector holds the enumerated families for a physical device
// and implements Queue.Request's search, replacing the teacher's
// first-fit FindSuitableQueue/BindGraphicsQueue (queue.go).
type queueSelector struct {
	families []queueFamily
}

func newQueueSelector(families []queueFamily) *queueSelector {
	return &queueSelector{families: families}
}

// Request scores every eligible family and returns the highest score,
// tie-breaking by ascending family index (spec.md §4.1). Under
// StrategyMinimal it returns the first eligible family in enumeration
// order without comparing scores.
func (s *queueSelector) Request(req QueueRequest) (QueueFamilySelection, bool) {
	excluded := make(map[uint32]bool, len(req.ExcludeFamilies))
	for _, idx := range req.ExcludeFamilies {
		excluded[idx] = true
	}

	bestScore := -1
	var best queueFamily
	found := false
	for _, f := range s.families {
		if excluded[f.index] {
			continue
		}
		if req.PreferSeparateFamily && f.bound {
			continue
		}
		score, ok := scoreFamily(f, req)
		if !ok {
			continue
		}
		if req.Strategy == StrategyMinimal {
			return QueueFamilySelection{FamilyIndex: f.index, Caps: f.caps}, true
		}
		if score > bestScore || (score == bestScore && found && f.index < best.index) {
			bestScore = score
			best = f
			found = true
		}
	}
	if !found {
		return QueueFamilySelection{}, false
	}
	return QueueFamilySelection{FamilyIndex: best.index, Caps: best.caps}, true
}

// MarkBound records that a family has had a queue handed out, so a
// subsequent PreferSeparateFamily request skips it (teacher's
// CoreQueue.binded[]/IsBound, queue.go).
func (s *queueSelector) MarkBound(familyIndex uint32) {
	for i := range s.families {
		if s.families[i].index == familyIndex {
			s.families[i].bound = true
			return
		}
	}
}
