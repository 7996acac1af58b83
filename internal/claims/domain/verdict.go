package domain

// Outcome is the result of an availability check.
type Outcome uint8

const (
	// OutcomeUncertain means no tier could decide, usually because the
	// authoritative store failed. Callers map it through an UncertainPolicy.
	OutcomeUncertain Outcome = iota
	OutcomeAvailable
	OutcomeTaken
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAvailable:
		return "available"
	case OutcomeTaken:
		return "taken"
	default:
		return "uncertain"
	}
}

// Tier names the layer of the cascade that produced a verdict.
type Tier uint8

const (
	TierNone Tier = iota
	TierFilter
	TierCache
	TierStore
)

func (t Tier) String() string {
	switch t {
	case TierFilter:
		return "filter"
	case TierCache:
		return "cache"
	case TierStore:
		return "store"
	default:
		return "none"
	}
}

// Verdict is the value-type result of one availability check.
type Verdict struct {
	Token   string
	Outcome Outcome
	Tier    Tier
	Err     error // set when Outcome is OutcomeUncertain
}

// UncertainPolicy decides how an uncertain verdict is reported to callers.
type UncertainPolicy uint8

const (
	// TreatAsTaken reports uncertain verdicts as unavailable. It prefers a
	// false "taken" over inviting a duplicate claim.
	TreatAsTaken UncertainPolicy = iota
	// TreatAsAvailable reports uncertain verdicts as available. The claim
	// path still arbitrates through the store constraint.
	TreatAsAvailable
)

// Available reports the verdict as a boolean under the given policy.
func (v Verdict) Available(p UncertainPolicy) bool {
	switch v.Outcome {
	case OutcomeAvailable:
		return true
	case OutcomeTaken:
		return false
	default:
		return p == TreatAsAvailable
	}
}
