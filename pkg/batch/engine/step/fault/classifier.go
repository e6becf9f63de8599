package fault

// Classification is the reaction to a failure.
type Classification int

const (
	// Fatal fails the chunk and the step.
	Fatal Classification = iota
	// Retryable repeats the failed operation.
	Retryable
	// Skippable drops the item and continues.
	Skippable
)

// String returns the name of the classification.
func (c Classification) String() string {
	switch c {
	case Retryable:
		return "Retryable"
	case Skippable:
		return "Skippable"
	default:
		return "Fatal"
	}
}

// Classify decides how to react to err.
//
// attempts is the number of retries already performed for the failing item;
// skips is the number of items skipped so far by the step.
// A never-skip kind is always Fatal. A retryable failure stays Retryable while
// attempts < RetryLimit; after that it is classified as if it were not
// retryable, which makes it Skippable while skips < SkipLimit and Fatal otherwise.
func Classify(err error, p Policy, attempts, skips int) Classification {
	if err == nil {
		return Fatal
	}
	if p.IsNeverSkip(err) {
		return Fatal
	}
	if p.IsRetryable(err) && attempts < p.RetryLimit {
		return Retryable
	}
	if p.IsSkippable(err) && skips < p.SkipLimit {
		return Skippable
	}
	return Fatal
}

// Classify applies the policy to err with the step's counters. Once the
// step's MaxTotalRetries budget is spent, no failure is classified Retryable.
func (p Policy) Classify(err error, attempts int, c *Counters) Classification {
	if c == nil {
		c = &Counters{}
	}
	if p.MaxTotalRetries > 0 && c.Retries >= p.MaxTotalRetries && attempts < p.RetryLimit {
		attempts = p.RetryLimit
	}
	return Classify(err, p, attempts, c.Skips)
}
