package calls

// NonSubscriberRateCents is the flat pay-per-call rate: 300 cents per
// billable minute. Subscribers pay nothing per call and consume plan hours
// instead.
const NonSubscriberRateCents int64 = 300

// Billing is the deterministic outcome of rating one completed call.
type Billing struct {
	BillableMinutes int
	RateCents       int64
	TotalCents      int64
}

// ComputeBilling rates a completed call from its duration and the subscriber
// snapshot taken at call start. Minutes round up: a 1-second call bills as a
// full minute. Pure function, no I/O.
func ComputeBilling(durationSeconds int, isSubscriber bool) Billing {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	minutes := durationSeconds / 60
	if durationSeconds%60 != 0 {
		minutes++
	}
	b := Billing{BillableMinutes: minutes}
	if isSubscriber {
		return b
	}
	b.RateCents = NonSubscriberRateCents
	b.TotalCents = int64(minutes) * NonSubscriberRateCents
	return b
}

// UsageHours converts billable minutes to the plan hours a subscriber call
// consumes.
func UsageHours(billableMinutes int) float64 {
	return float64(billableMinutes) / 60
}
