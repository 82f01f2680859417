// Package routing implements the rule matcher: the pure decision function
// that maps an inbound call's instant onto a tenant's routing schedule.
package routing

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/database/models"
)

// Action is the routing decision for an inbound call.
type Action string

const (
	// ActionAI connects the caller to the AI agent.
	ActionAI Action = "ai"

	// ActionForward rings the configured forward targets.
	ActionForward Action = "forward"
)

// Reasons describe why a decision was reached, for logging and audit.
const (
	ReasonRuleMatch     = "rule_match"
	ReasonDisabled      = "disabled_override"
	ReasonDefault       = "default"
	ReasonConfigInvalid = "config_invalid"
	ReasonNoConfig      = "no_config"
)

// Decision is the outcome of evaluating a routing config at an instant.
type Decision struct {
	Action Action

	// MatchedRule is the rule that produced the decision, nil when the
	// decision came from a default or an override.
	MatchedRule *models.RoutingRule

	// TargetsOverride is the matched rule's target list, if it carries one.
	// Empty means use the number's default ForwardTargets.
	TargetsOverride []models.Target

	// Reason records how the decision was reached.
	Reason string
}

// Decide evaluates a routing config at the given instant and returns the
// effective decision. It never fails: invalid configuration data fails
// closed to AI handling so a bad tenant config can't drop calls.
//
// A disabled config short-circuits to forwarding regardless of rules:
// it is the operator's switch for taking a number off AI immediately.
// A nil config (number not configured) defaults to AI handling.
func Decide(cfg *models.RoutingConfig, now time.Time) Decision {
	if cfg == nil {
		return Decision{Action: ActionAI, Reason: ReasonNoConfig}
	}

	if !cfg.Enabled {
		return Decision{Action: ActionForward, Reason: ReasonDisabled}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		return Decision{Action: ActionAI, Reason: ReasonConfigInvalid}
	}

	rules, err := parseRules(cfg.Rules)
	if err != nil {
		return Decision{Action: ActionAI, Reason: ReasonConfigInvalid}
	}

	local := now.In(loc)

	// Ascending priority, stable so list order breaks ties.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	for i := range rules {
		if !ruleMatches(local, &rules[i]) {
			continue
		}
		d := Decision{
			MatchedRule: &rules[i],
			Reason:      ReasonRuleMatch,
		}
		switch rules[i].Action {
		case string(ActionForward):
			d.Action = ActionForward
			d.TargetsOverride = rules[i].TargetsOverride
		default:
			d.Action = ActionAI
		}
		return d
	}

	// No rule matched: enabled configs default to AI handling.
	return Decision{Action: ActionAI, Reason: ReasonDefault}
}

// parseRules decodes the config's Rules JSON. An empty string is treated
// as an empty rule list.
func parseRules(rulesJSON string) ([]models.RoutingRule, error) {
	if strings.TrimSpace(rulesJSON) == "" {
		return nil, nil
	}
	var rules []models.RoutingRule
	if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
		return nil, fmt.Errorf("parsing rules json: %w", err)
	}
	return rules, nil
}

// ruleMatches checks whether the given local time falls in a rule's
// day/time window. The window is inclusive of start, exclusive of end;
// end before start spans midnight (e.g. 22:00–06:00).
func ruleMatches(local time.Time, rule *models.RoutingRule) bool {
	currentDay := strings.ToLower(local.Weekday().String()[:3])
	dayMatch := false
	for _, d := range rule.Days {
		if strings.ToLower(d) == currentDay {
			dayMatch = true
			break
		}
	}
	if !dayMatch {
		return false
	}

	startH, startM, ok := parseHHMM(rule.Start)
	if !ok {
		return false
	}
	endH, endM, ok := parseHHMM(rule.End)
	if !ok {
		return false
	}

	nowMinutes := local.Hour()*60 + local.Minute()
	startMinutes := startH*60 + startM
	endMinutes := endH*60 + endM

	if startMinutes > endMinutes {
		return nowMinutes >= startMinutes || nowMinutes < endMinutes
	}

	return nowMinutes >= startMinutes && nowMinutes < endMinutes
}

// parseHHMM parses a "HH:MM" time string into hours and minutes.
func parseHHMM(s string) (int, int, bool) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
