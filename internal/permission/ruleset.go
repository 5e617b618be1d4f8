package permission

import "sync"

// Mode is the coarse permission policy resolved before a stream starts.
type Mode string

const (
	ModeDefault Mode = "default"
	ModePlan    Mode = "plan"
	ModeBypass  Mode = "bypassPermissions"
)

// Verdict is the outcome of evaluating the static rules for one call.
type Verdict int

const (
	// VerdictAsk means no rule matched; the call must escalate to the
	// client. Rule mismatch never defaults to allow or deny.
	VerdictAsk Verdict = iota
	VerdictAllow
	VerdictDeny
)

// RuleSet holds the effective allow/deny rules for one stream. Deny
// rules are checked before allow rules. The set is mutable for the
// lifetime of the stream only: approvals remembered mid-stream update
// it in memory and are never persisted.
type RuleSet struct {
	mu    sync.Mutex
	mode  Mode
	allow []string
	deny  []string
}

// NewRuleSet builds a rule set from resolved options. Both lists are
// copied and materialized; a nil list means an empty list, never
// "allow everything".
func NewRuleSet(mode Mode, allow, deny []string) *RuleSet {
	rs := &RuleSet{
		mode:  mode,
		allow: make([]string, 0, len(allow)),
		deny:  make([]string, 0, len(deny)),
	}
	rs.allow = append(rs.allow, allow...)
	rs.deny = append(rs.deny, deny...)
	return rs
}

// Bypass reports whether the permission mode skips rule checks entirely.
func (rs *RuleSet) Bypass() bool {
	return rs.mode == ModeBypass
}

// Evaluate applies the rules to a tool call, deny first.
func (rs *RuleSet) Evaluate(toolName string, input any) Verdict {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, rule := range rs.deny {
		if MatchesToolPermission(rule, toolName, input) {
			return VerdictDeny
		}
	}
	for _, rule := range rs.allow {
		if MatchesToolPermission(rule, toolName, input) {
			return VerdictAllow
		}
	}
	return VerdictAsk
}

// Remember adds an approved entry to the allow list and drops it from
// the deny list, for the remainder of this stream.
func (rs *RuleSet) Remember(entry string) {
	if entry == "" {
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	found := false
	for _, rule := range rs.allow {
		if rule == entry {
			found = true
			break
		}
	}
	if !found {
		rs.allow = append(rs.allow, entry)
	}

	deny := rs.deny[:0]
	for _, rule := range rs.deny {
		if rule != entry {
			deny = append(deny, rule)
		}
	}
	rs.deny = deny
}

// AllowRules returns a copy of the current allow list.
func (rs *RuleSet) AllowRules() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.allow...)
}

// DenyRules returns a copy of the current deny list.
func (rs *RuleSet) DenyRules() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.deny...)
}
