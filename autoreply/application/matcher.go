package application

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flowdesk/msggate/autoreply/domain"
	"github.com/sirupsen/logrus"
)

// Matcher evaluates inbound text against a tenant's active rules.
//
// Canonical matching algorithm (the two historical variants disagreed on
// word-boundary handling; this is the one behavior kept):
//   - any:   text contains a shortcut as a substring OR as a whole-word token
//   - all:   every shortcut present as a substring
//   - exact: trimmed text equals a shortcut
//   - regex: each shortcut compiled as a pattern; malformed patterns are
//     logged and skipped
//
// Comparison is case-folded unless the rule is CaseSensitive.
type Matcher struct {
	repo domain.IRuleRepository
	now  func() time.Time
}

func NewMatcher(repo domain.IRuleRepository) *Matcher {
	return &Matcher{repo: repo, now: time.Now}
}

// Match returns the first satisfied rule for the tenant in candidate order
// (priority DESC, usage DESC), incrementing its usage count, or nil when no
// rule matches.
func (m *Matcher) Match(ctx context.Context, tenantID, text string, facts domain.ContactFacts) (*domain.Rule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	rules, err := m.repo.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	for _, rule := range rules {
		if !m.inBusinessHours(rule, now) {
			continue
		}
		if !conditionsSatisfied(rule.Conditions, facts) {
			continue
		}
		if !textMatches(rule, text) {
			continue
		}

		if err := m.repo.IncrementUsage(ctx, tenantID, rule.ID); err != nil {
			logrus.WithError(err).WithField("rule_id", rule.ID).
				Warn("[AUTOREPLY] Failed to increment rule usage")
		}
		return rule, nil
	}
	return nil, nil
}

func (m *Matcher) inBusinessHours(rule *domain.Rule, now time.Time) bool {
	hours := rule.BusinessHours
	if hours == nil {
		return true
	}

	loc := time.UTC
	if hours.Timezone != "" {
		if l, err := time.LoadLocation(hours.Timezone); err == nil {
			loc = l
		} else {
			logrus.Warnf("[AUTOREPLY] Unknown timezone %q on rule %s, using UTC", hours.Timezone, rule.ID)
		}
	}

	start, okStart := parseClock(hours.Start)
	end, okEnd := parseClock(hours.End)
	if !okStart || !okEnd {
		logrus.Warnf("[AUTOREPLY] Malformed business hours on rule %s, treating as always open", rule.ID)
		return true
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end
	}
	// Window wraps midnight.
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(v string) (int, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

func conditionsSatisfied(conditions []domain.Condition, facts domain.ContactFacts) bool {
	for _, cond := range conditions {
		if !evaluateCondition(cond, facts) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond domain.Condition, facts domain.ContactFacts) bool {
	var actual string
	switch cond.Field {
	case "stage":
		actual = facts.Stage
	case "display_name":
		actual = facts.DisplayName
	case "message_count":
		actual = strconv.Itoa(facts.MessageCount)
	default:
		// Unknown field never satisfies; misconfigured rules stay quiet
		// instead of replying to everyone.
		return false
	}

	switch cond.Op {
	case domain.OpEquals:
		return strings.EqualFold(actual, cond.Value)
	case domain.OpNotEquals:
		return !strings.EqualFold(actual, cond.Value)
	case domain.OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value))
	case domain.OpGreaterThan:
		a, errA := strconv.Atoi(actual)
		b, errB := strconv.Atoi(cond.Value)
		return errA == nil && errB == nil && a > b
	case domain.OpLessThan:
		a, errA := strconv.Atoi(actual)
		b, errB := strconv.Atoi(cond.Value)
		return errA == nil && errB == nil && a < b
	}
	return false
}

func textMatches(rule *domain.Rule, text string) bool {
	if len(rule.Shortcuts) == 0 {
		return false
	}

	haystack := text
	fold := func(s string) string { return s }
	if !rule.CaseSensitive {
		haystack = strings.ToLower(text)
		fold = strings.ToLower
	}

	switch rule.MatchMode {
	case domain.MatchExact:
		trimmed := strings.TrimSpace(haystack)
		for _, shortcut := range rule.Shortcuts {
			if trimmed == strings.TrimSpace(fold(shortcut)) {
				return true
			}
		}
		return false

	case domain.MatchAll:
		for _, shortcut := range rule.Shortcuts {
			if !strings.Contains(haystack, fold(shortcut)) {
				return false
			}
		}
		return true

	case domain.MatchRegex:
		for _, shortcut := range rule.Shortcuts {
			pattern := shortcut
			if !rule.CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				logrus.Warnf("[AUTOREPLY] Malformed regex %q on rule %s: %v", shortcut, rule.ID, err)
				continue
			}
			if re.MatchString(text) {
				return true
			}
		}
		return false

	case domain.MatchAny:
		tokens := tokenize(haystack)
		for _, shortcut := range rule.Shortcuts {
			needle := fold(shortcut)
			if strings.Contains(haystack, needle) {
				return true
			}
			for _, tok := range tokens {
				if tok == needle {
					return true
				}
			}
		}
		return false

	default:
		// Unknown mode never matches, same posture as unknown condition
		// fields. Validation rejects these up front; stored rules from
		// older versions stay quiet instead of replying to everything.
		return false
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ',' || r == '.' || r == '!' || r == '?'
	})
}
