package models

import "time"

// Rule tracks one domain's daily time budget for one user.
type Rule struct {
	Domain        string    `json:"domain"`          // normalized: lowercased, "www." stripped
	DailyLimitMin int       `json:"daily_limit_min"` // 0 means no limit
	UsedTodayMin  float64   `json:"used_today_min"`
	LastResetAt   time.Time `json:"last_reset_at"`
}

// RuleSpec is the caller-supplied shape of a rule when replacing the set.
type RuleSpec struct {
	Domain        string `json:"domain"`
	DailyLimitMin int    `json:"daily_limit"`
}

// RuleStatus is the decision tuple returned for every rule.
type RuleStatus struct {
	Domain        string  `json:"domain"`
	DailyLimitMin int     `json:"daily_limit"`
	UsedTodayMin  float64 `json:"used_today"`
	RemainingMin  float64 `json:"remaining"`
	Block         bool    `json:"block"`
}

// OverLimit reports whether the used minutes exhaust the limit.
// A zero limit never blocks.
func (r *Rule) OverLimit(usedMin float64) bool {
	return r.DailyLimitMin > 0 && usedMin >= float64(r.DailyLimitMin)
}
