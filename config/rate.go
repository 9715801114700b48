package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sre-gateway/middleware/ratelimit/domain"
)

// ErrInvalidRule marca regras de rate limit mal formadas.
var ErrInvalidRule = errors.New("invalid rate limit rule")

var periods = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseRate interpreta "<n> per <period>", "<n> per <k> <period>s" ou
// "<n>/<period>". Ex: "50 per minute", "10 per 5 minutes", "1000/hour".
func ParseRate(s string) (limit int64, window time.Duration, err error) {
	text := strings.ToLower(strings.TrimSpace(s))
	var count, rest string
	if i := strings.Index(text, "/"); i >= 0 {
		count, rest = text[:i], text[i+1:]
	} else {
		fields := strings.Fields(text)
		if len(fields) < 3 || fields[1] != "per" {
			return 0, 0, fmt.Errorf("%w: %q (want \"<n> per <period>\")", ErrInvalidRule, s)
		}
		count, rest = fields[0], strings.Join(fields[2:], " ")
	}

	limit, err = strconv.ParseInt(strings.TrimSpace(count), 10, 64)
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("%w: %q: limit must be a positive integer", ErrInvalidRule, s)
	}

	multiplier := int64(1)
	unitFields := strings.Fields(rest)
	switch len(unitFields) {
	case 1:
	case 2:
		multiplier, err = strconv.ParseInt(unitFields[0], 10, 64)
		if err != nil || multiplier <= 0 {
			return 0, 0, fmt.Errorf("%w: %q: bad period multiplier", ErrInvalidRule, s)
		}
		unitFields = unitFields[1:]
	default:
		return 0, 0, fmt.Errorf("%w: %q: bad period", ErrInvalidRule, s)
	}

	unit := strings.TrimSuffix(unitFields[0], "s")
	base, ok := periods[unit]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q: unknown period %q", ErrInvalidRule, s, unitFields[0])
	}
	if multiplier > math.MaxInt64/int64(base) {
		return 0, 0, fmt.Errorf("%w: %q: period too long", ErrInvalidRule, s)
	}
	return limit, time.Duration(multiplier) * base, nil
}

// RuleConfig é a forma declarativa de uma regra. Routes vazio = global.
type RuleConfig struct {
	ID     string   `mapstructure:"id" yaml:"id"`
	Limit  string   `mapstructure:"limit" yaml:"limit"`
	Routes []string `mapstructure:"routes" yaml:"routes,omitempty"`
}

func (rc RuleConfig) Rule() (domain.Rule, error) {
	if strings.TrimSpace(rc.ID) == "" {
		return domain.Rule{}, fmt.Errorf("%w: rule with limit %q has no id", ErrInvalidRule, rc.Limit)
	}
	limit, window, err := ParseRate(rc.Limit)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
	}
	if window <= 0 {
		return domain.Rule{}, fmt.Errorf("%w: rule %s: window must be positive", ErrInvalidRule, rc.ID)
	}
	for _, route := range rc.Routes {
		if !strings.HasPrefix(route, "/") {
			return domain.Rule{}, fmt.Errorf("%w: rule %s: route %q must start with /", ErrInvalidRule, rc.ID, route)
		}
	}
	return domain.Rule{
		ID:     domain.RuleID(rc.ID),
		Limit:  limit,
		Window: window,
		Routes: append([]string(nil), rc.Routes...),
	}, nil
}

// DefaultRules: dois portões globais e um por rota.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{ID: "global-day", Limit: "5000 per day"},
		{ID: "global-hour", Limit: "1000 per hour"},
		{ID: "root", Limit: "200 per hour", Routes: []string{"/"}},
		{ID: "users", Limit: "50 per minute", Routes: []string{"/api/users"}},
	}
}
