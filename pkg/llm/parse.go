package llm

import (
	"regexp"
	"strconv"
	"strings"
)

// The production personas end every response with a fixed trailer:
//
//	Perspective strength: [1-10]
//	Credence: <25% / 25-75% / >75%
//
// plus optional concession markers such as "[CONCEDE: evidence ratio >20:1 ...]".
// ParseStructured lifts those trailers into structured fields once, so the
// stage executor and the arbiter never re-parse raw text.
var (
	strengthRe = regexp.MustCompile(`(?i)perspective strength:\s*\[?\s*(\d+(?:\.\d+)?)`)
	credenceRe = regexp.MustCompile(`(?i)credence:\s*([^\n]+)`)
	rangeRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s*%`)
	percentRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	decimalRe  = regexp.MustCompile(`\b(0?\.\d+|1\.0+|0|1)\b`)
)

// ParseStructured extracts known structured fields from a persona response.
// Missing fields are simply absent; callers choose their own defaults.
func ParseStructured(text string) map[string]any {
	fields := make(map[string]any)

	if m := strengthRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 10 {
			fields["perspective_strength"] = v
		}
	}

	if m := credenceRe.FindStringSubmatch(text); m != nil {
		if v, ok := parseCredence(m[1]); ok {
			fields["credence"] = v
		}
	}

	if strings.Contains(text, "[CONCEDE:") {
		fields["concede"] = true
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// parseCredence converts a credence expression to [0,1]. The persona buckets
// map to their interval midpoints; explicit percentages and decimals are
// taken as-is.
func parseCredence(expr string) (float64, bool) {
	expr = strings.TrimSpace(expr)

	switch {
	case strings.HasPrefix(expr, "<"):
		if m := percentRe.FindStringSubmatch(expr); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return v / 100 / 2, true
			}
		}
	case strings.HasPrefix(expr, ">"):
		if m := percentRe.FindStringSubmatch(expr); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return (v/100 + 1) / 2, true
			}
		}
	case strings.Contains(expr, "-"):
		// The "25-75%" bucket carries the % only on the upper bound, so the
		// range needs its own pattern; a per-bound percent scan misses the
		// lower bound and would fall through to the upper bound alone.
		if m := rangeRe.FindStringSubmatch(expr); m != nil {
			lo, err1 := strconv.ParseFloat(m[1], 64)
			hi, err2 := strconv.ParseFloat(m[2], 64)
			if err1 == nil && err2 == nil {
				return (lo + hi) / 200, true
			}
		}
	}

	if m := percentRe.FindStringSubmatch(expr); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 100 {
			return v / 100, true
		}
	}

	if m := decimalRe.FindStringSubmatch(expr); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 1 {
			return v, true
		}
	}

	return 0, false
}

// NormalizeStrength converts a 0-10 perspective strength to [0,1].
func NormalizeStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 1
	}
	return v / 10
}
