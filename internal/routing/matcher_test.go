package routing

import (
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/database/models"
)

func londonConfig(enabled bool, rules string) *models.RoutingConfig {
	return &models.RoutingConfig{
		TenantID:    "tn_1",
		PhoneNumber: "+442071234567",
		Country:     "GB",
		Timezone:    "Europe/London",
		Enabled:     enabled,
		Rules:       rules,
	}
}

const businessHoursRules = `[{"priority":1,"days":["mon","tue","wed","thu","fri"],"start":"09:00","end":"17:00","action":"ai"}]`

func TestDecideBusinessHoursAI(t *testing.T) {
	cfg := londonConfig(true, businessHoursRules)

	loc, _ := time.LoadLocation("Europe/London")
	now := time.Date(2025, 6, 16, 10, 0, 0, 0, loc) // Monday 10:00

	d := Decide(cfg, now)
	if d.Action != ActionAI {
		t.Errorf("action = %q, want %q", d.Action, ActionAI)
	}
	if d.MatchedRule == nil || d.MatchedRule.Priority != 1 {
		t.Errorf("expected rule priority 1 to match, got %+v", d.MatchedRule)
	}
}

func TestDecideWeekendFallsThroughToDefault(t *testing.T) {
	cfg := londonConfig(true, businessHoursRules)

	loc, _ := time.LoadLocation("Europe/London")
	now := time.Date(2025, 6, 21, 10, 0, 0, 0, loc) // Saturday 10:00

	d := Decide(cfg, now)
	if d.Action != ActionAI {
		t.Errorf("action = %q, want %q (default for enabled config)", d.Action, ActionAI)
	}
	if d.Reason != ReasonDefault {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonDefault)
	}
	if d.MatchedRule != nil {
		t.Errorf("expected no matched rule, got %+v", d.MatchedRule)
	}
}

func TestDecideDisabledAlwaysForwards(t *testing.T) {
	// Rules say AI around the clock; disabled overrides them all.
	rules := `[{"priority":1,"days":["mon","tue","wed","thu","fri","sat","sun"],"start":"00:00","end":"23:59","action":"ai"}]`
	cfg := londonConfig(false, rules)

	loc, _ := time.LoadLocation("Europe/London")
	times := []time.Time{
		time.Date(2025, 6, 16, 10, 0, 0, 0, loc),
		time.Date(2025, 6, 21, 3, 30, 0, 0, loc),
		time.Date(2025, 6, 18, 23, 0, 0, 0, loc),
	}

	for _, now := range times {
		d := Decide(cfg, now)
		if d.Action != ActionForward {
			t.Errorf("at %v: action = %q, want %q", now, d.Action, ActionForward)
		}
		if d.Reason != ReasonDisabled {
			t.Errorf("at %v: reason = %q, want %q", now, d.Reason, ReasonDisabled)
		}
	}
}

func TestDecideLowestPriorityWins(t *testing.T) {
	rules := `[
		{"priority":5,"days":["mon"],"start":"00:00","end":"23:59","action":"forward"},
		{"priority":1,"days":["mon"],"start":"09:00","end":"17:00","action":"ai"}
	]`
	cfg := londonConfig(true, rules)

	loc, _ := time.LoadLocation("Europe/London")
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, loc) // Monday noon, both match

	d := Decide(cfg, now)
	if d.Action != ActionAI {
		t.Errorf("action = %q, want %q (priority 1 beats 5)", d.Action, ActionAI)
	}
	if d.MatchedRule == nil || d.MatchedRule.Priority != 1 {
		t.Errorf("matched rule = %+v, want priority 1", d.MatchedRule)
	}
}

func TestDecideEqualPriorityListOrderWins(t *testing.T) {
	rules := `[
		{"priority":1,"days":["mon"],"start":"09:00","end":"17:00","action":"forward"},
		{"priority":1,"days":["mon"],"start":"09:00","end":"17:00","action":"ai"}
	]`
	cfg := londonConfig(true, rules)

	loc, _ := time.LoadLocation("Europe/London")
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, loc)

	d := Decide(cfg, now)
	if d.Action != ActionForward {
		t.Errorf("action = %q, want %q (first listed rule wins ties)", d.Action, ActionForward)
	}
}

func TestDecideMidnightWrap(t *testing.T) {
	rules := `[{"priority":1,"days":["mon","tue","wed","thu","fri"],"start":"22:00","end":"06:00","action":"forward"}]`
	cfg := londonConfig(true, rules)

	loc, _ := time.LoadLocation("Europe/London")

	tests := []struct {
		name string
		now  time.Time
		want Action
	}{
		{"before midnight matches", time.Date(2025, 6, 16, 23, 30, 0, 0, loc), ActionForward},
		{"after midnight matches", time.Date(2025, 6, 17, 5, 0, 0, 0, loc), ActionForward},
		{"midday does not match", time.Date(2025, 6, 16, 12, 0, 0, 0, loc), ActionAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(cfg, tt.now)
			if d.Action != tt.want {
				t.Errorf("action = %q, want %q", d.Action, tt.want)
			}
		})
	}
}

func TestDecideTimezoneConversion(t *testing.T) {
	cfg := londonConfig(true, businessHoursRules)

	// Monday 10:00 London expressed as a UTC instant.
	loc, _ := time.LoadLocation("Europe/London")
	now := time.Date(2025, 6, 16, 10, 0, 0, 0, loc).UTC()

	d := Decide(cfg, now)
	if d.Action != ActionAI {
		t.Errorf("action = %q, want %q after timezone conversion", d.Action, ActionAI)
	}
}

func TestDecideInvalidTimezoneFailsClosed(t *testing.T) {
	for _, tz := range []string{"", "Not/AZone"} {
		cfg := londonConfig(true, businessHoursRules)
		cfg.Timezone = tz

		d := Decide(cfg, time.Now())
		if d.Action != ActionAI {
			t.Errorf("timezone %q: action = %q, want %q (fail closed)", tz, d.Action, ActionAI)
		}
		if d.Reason != ReasonConfigInvalid {
			t.Errorf("timezone %q: reason = %q, want %q", tz, d.Reason, ReasonConfigInvalid)
		}
	}
}

func TestDecideMalformedRulesFailClosed(t *testing.T) {
	cfg := londonConfig(true, `{"not":"an array"`)

	d := Decide(cfg, time.Now())
	if d.Action != ActionAI {
		t.Errorf("action = %q, want %q", d.Action, ActionAI)
	}
	if d.Reason != ReasonConfigInvalid {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonConfigInvalid)
	}
}

func TestDecideNilConfigDefaultsToAI(t *testing.T) {
	d := Decide(nil, time.Now())
	if d.Action != ActionAI {
		t.Errorf("action = %q, want %q", d.Action, ActionAI)
	}
	if d.Reason != ReasonNoConfig {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonNoConfig)
	}
}

func TestDecideTargetsOverride(t *testing.T) {
	rules := `[{"priority":1,"days":["sat","sun"],"start":"00:00","end":"23:59","action":"forward",
		"targets_override":[{"to":"+447700900099","label":"On-call","priority":1}]}]`
	cfg := londonConfig(true, rules)

	loc, _ := time.LoadLocation("Europe/London")
	now := time.Date(2025, 6, 21, 14, 0, 0, 0, loc) // Saturday

	d := Decide(cfg, now)
	if d.Action != ActionForward {
		t.Fatalf("action = %q, want %q", d.Action, ActionForward)
	}
	if len(d.TargetsOverride) != 1 || d.TargetsOverride[0].To != "+447700900099" {
		t.Errorf("targets override = %+v, want the on-call number", d.TargetsOverride)
	}
}

func TestRuleMatchesWindowBounds(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/London")

	rule := &models.RoutingRule{
		Days:  []string{"wed"},
		Start: "09:00",
		End:   "17:00",
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"exact start matches", time.Date(2025, 6, 18, 9, 0, 0, 0, loc), true},
		{"minute before end matches", time.Date(2025, 6, 18, 16, 59, 0, 0, loc), true},
		{"exact end does not match", time.Date(2025, 6, 18, 17, 0, 0, 0, loc), false},
		{"wrong day does not match", time.Date(2025, 6, 19, 10, 0, 0, 0, loc), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ruleMatches(tt.now, rule); got != tt.want {
				t.Errorf("ruleMatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		input  string
		h, m   int
		wantOk bool
	}{
		{"09:00", 9, 0, true},
		{"00:00", 0, 0, true},
		{"23:59", 23, 59, true},
		{"9:30", 9, 30, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"invalid", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			h, m, ok := parseHHMM(tt.input)
			if ok != tt.wantOk {
				t.Fatalf("parseHHMM(%q) ok = %v, want %v", tt.input, ok, tt.wantOk)
			}
			if ok && (h != tt.h || m != tt.m) {
				t.Errorf("parseHHMM(%q) = (%d, %d), want (%d, %d)", tt.input, h, m, tt.h, tt.m)
			}
		})
	}
}
