package auth

import "strings"

// PlanLimits caps request volume per subscription tier. -1 means
// unlimited.
type PlanLimits struct {
	Name     string
	PerMonth int
	PerDay   int
}

var plans = map[string]PlanLimits{
	"free":       {Name: "Free", PerMonth: 1000, PerDay: 50},
	"starter":    {Name: "Starter", PerMonth: 10000, PerDay: 500},
	"pro":        {Name: "Pro", PerMonth: 100000, PerDay: 5000},
	"enterprise": {Name: "Enterprise", PerMonth: -1, PerDay: -1},
}

// PlanFor returns the limits for the named plan. Unknown plans get the
// starter tier, so a bad row never locks a paying tenant out.
func PlanFor(name string) PlanLimits {
	if p, ok := plans[strings.ToLower(name)]; ok {
		return p
	}
	return plans["starter"]
}

// WithinLimit reports whether usage fits under limit. Negative limits
// are unlimited.
func WithinLimit(usage, limit int) bool {
	return limit < 0 || usage < limit
}
