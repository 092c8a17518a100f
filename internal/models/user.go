package models

import "time"

// User is the owner of a rule set, identified by a client-generated UUID.
// Users are created lazily on first contact and never deleted.
type User struct {
	ID         string       `json:"id"`
	Email      string       `json:"email,omitempty"`
	Rules      []*Rule      `json:"rules"`
	Overrides  []Override   `json:"overrides,omitempty"`
	Pending    *PendingCode `json:"pending,omitempty"`
	LastSeenAt time.Time    `json:"last_seen_at"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Override suppresses blocking for one domain until it expires.
// Duplicates for the same domain may coexist; the latest expiry wins.
type Override struct {
	Domain    string    `json:"domain"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the override still applies. Expiry is exclusive:
// an override is dead at exactly ExpiresAt.
func (o Override) Active(now time.Time) bool {
	return o.ExpiresAt.After(now)
}

// PendingCode is an outstanding unlock code. The code itself is stored
// only as a bcrypt hash; the plaintext exists at issuance time only.
type PendingCode struct {
	CodeHash  []byte    `json:"code_hash"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy, so storage can hand out instances that
// callers mutate freely without touching the cached one.
func (u *User) Clone() *User {
	c := *u
	c.Rules = make([]*Rule, len(u.Rules))
	for i, r := range u.Rules {
		rc := *r
		c.Rules[i] = &rc
	}
	c.Overrides = append([]Override(nil), u.Overrides...)
	if u.Pending != nil {
		pc := *u.Pending
		pc.CodeHash = append([]byte(nil), u.Pending.CodeHash...)
		c.Pending = &pc
	}
	return &c
}

// RuleFor returns the user's rule for a normalized domain, or nil.
func (u *User) RuleFor(domain string) *Rule {
	for _, r := range u.Rules {
		if r.Domain == domain {
			return r
		}
	}
	return nil
}

// HasActiveOverride checks for an unexpired override on a domain.
func (u *User) HasActiveOverride(domain string, now time.Time) bool {
	for _, o := range u.Overrides {
		if o.Domain == domain && o.Active(now) {
			return true
		}
	}
	return false
}

// PurgeExpiredOverrides drops dead overrides and reports whether anything
// changed, so callers can skip the persistence write when nothing did.
func (u *User) PurgeExpiredOverrides(now time.Time) bool {
	kept := u.Overrides[:0]
	for _, o := range u.Overrides {
		if o.Active(now) {
			kept = append(kept, o)
		}
	}
	changed := len(kept) != len(u.Overrides)
	u.Overrides = kept
	return changed
}
