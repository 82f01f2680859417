// Package models defines the database entity types shared between the
// repository layer and the routing engine.
package models

import "time"

// RoutingConfig is the per-number routing schedule for a tenant. Rules is a
// JSON array of RoutingRule, evaluated in ascending priority order by the
// rule matcher.
type RoutingConfig struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PhoneNumber string    `json:"phone_number"`
	Country     string    `json:"country"`  // ISO 3166-1 alpha-2
	Timezone    string    `json:"timezone"` // IANA name, e.g. "Europe/London"
	Enabled     bool      `json:"enabled"`
	Rules       string    `json:"rules"` // JSON array of RoutingRule
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoutingRule is one time-window rule inside a RoutingConfig's Rules JSON.
// Lower Priority wins; ties are broken by list order. Start/End are local
// "HH:MM" times in the config's timezone; End < Start spans midnight.
type RoutingRule struct {
	Priority        int      `json:"priority"`
	Days            []string `json:"days"`  // e.g. ["mon","tue","wed","thu","fri"]
	Start           string   `json:"start"` // "HH:MM"
	End             string   `json:"end"`   // "HH:MM"
	Action          string   `json:"action"` // "ai" or "forward"
	TargetsOverride []Target `json:"targets_override,omitempty"`
}

// ForwardTargets is the per-number forwarding policy: an ordered target
// list plus ring strategy, overall timeout, and fallback action.
type ForwardTargets struct {
	ID             int64     `json:"id"`
	TenantID       string    `json:"tenant_id"`
	PhoneNumber    string    `json:"phone_number"`
	Targets        string    `json:"targets"`       // JSON array of Target
	RingStrategy   string    `json:"ring_strategy"` // "sequential" or "simultaneous"
	TimeoutSeconds int       `json:"timeout_seconds"`
	Fallback       string    `json:"fallback"` // "voicemail", "ai_callback", or "hangup"
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Target is one forwarding destination inside a ForwardTargets list.
type Target struct {
	To       string `json:"to"` // E.164
	Label    string `json:"label,omitempty"`
	Priority int    `json:"priority"`
}

// TransferLogEntry is one immutable transition record for a call. Entries
// for a (tenant_id, call_sid) pair form an append-only, totally ordered
// sequence; Seq is assigned by the store and never reused.
type TransferLogEntry struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CallSid   string    `json:"call_sid"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Detail    string    `json:"detail,omitempty"`
}
