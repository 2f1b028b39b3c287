// Package classifier implements the pattern-based static classification of
// a declared type's fully qualified name, plus a field-level risk walk.
package classifier

import (
	"regexp"

	"github.com/chronos-dev/agent/internal/timeline"
)

// Severity bands a field-level risk found while walking a type's members.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Risk is one finding produced while walking a type's declared fields.
type Risk struct {
	FieldName   string
	TypeName    string
	Severity    Severity
	Description string
}

// Analysis is the result of analyzing a declared type.
type Analysis struct {
	TypeName string
	Class    timeline.Class
	Score    int
	Risks    []Risk
}

// pattern is one entry in an ordered pattern table: Regexp matches against a
// fully-qualified type name, Description explains what matched for use in
// mitigation suggestions.
type pattern struct {
	Regexp      *regexp.Regexp
	Description string
}

func mustPatterns(descRegex ...[2]string) []pattern {
	out := make([]pattern, 0, len(descRegex))
	for _, pr := range descRegex {
		out = append(out, pattern{Regexp: regexp.MustCompile(pr[1]), Description: pr[0]})
	}
	return out
}

// Classifier holds the three ordered pattern tables used to classify a
// declared type name. All tables are data-driven and replaceable so hosts
// can plug in project-specific naming conventions.
type Classifier struct {
	criticalUnsafe []pattern
	verifiable     []pattern
	guaranteedSafe []pattern
}

// New returns a Classifier pre-loaded with the default pattern tables.
func New() *Classifier {
	return &Classifier{
		criticalUnsafe: mustPatterns(
			[2]string{"network", `(?i)(socket|httpclient|tcpconn|udpconn|webrequest|urlconnection)`},
			[2]string{"time", `(?i)(\bclock\b|systemclock|\bnow\(\)|timeprovider)`},
			[2]string{"random", `(?i)(random|rng|uuidgenerator|securerandom)`},
			[2]string{"file io", `(?i)(fileinputstream|fileoutputstream|\bfile\b|filesystem|\bpath\b)`},
			[2]string{"database", `(?i)(sqlconnection|resultset|\bcursor\b|database|\bdao\b|repository)`},
			[2]string{"preferences", `(?i)(sharedpreferences|userdefaults|settingsprovider)`},
		),
		verifiable: mustPatterns(
			[2]string{"observable state holder", `(?i)(atomic|observable|stateflow|liveData|mutablestate|volatile)`},
		),
		guaranteedSafe: mustPatterns(
			[2]string{"primitive", `(?i)^(kotlin\.|java\.lang\.|builtins\.)?(string|int|long|short|byte|bool|boolean|float|double|char)$`},
			[2]string{"immutable collection", `(?i)(immutablelist|immutablemap|immutableset|\btuple\b|persistentlist|persistentmap)`},
		),
	}
}

// AnalyzeType classifies the declared type name and, given its field member
// names and types, produces a risk-weighted Analysis. It must never invoke
// the source's capture operation — classification is purely static.
func (c *Classifier) AnalyzeType(typeName string, fields map[string]string, isTaggedUnionOrPureData bool) Analysis {
	class := c.classifyName(typeName)

	risks := make([]Risk, 0, len(fields))
	score := 100
	hasCritical := false
	hasWarning := false

	for fieldName, fieldType := range fields {
		risk, ok := c.classifyField(fieldName, fieldType)
		if !ok {
			continue
		}
		risks = append(risks, risk)
		switch risk.Severity {
		case SeverityCritical:
			hasCritical = true
			score -= 50
		case SeverityWarning:
			hasWarning = true
			score -= 20
		case SeverityInfo:
			score -= 5
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	switch {
	case hasCritical:
		class = timeline.Unsafe
	case hasWarning && class != timeline.Unsafe:
		class = timeline.Conditional
	case class == timeline.Conditional && isTaggedUnionOrPureData:
		class = timeline.Guaranteed
	}

	return Analysis{TypeName: typeName, Class: class, Score: score, Risks: risks}
}

// classifyName applies the rule order critical-unsafe -> verifiable ->
// guaranteed-safe; structural checks are applied by the caller via
// isTaggedUnionOrPureData before falling back to the default Conditional.
func (c *Classifier) classifyName(typeName string) timeline.Class {
	if matchAny(c.criticalUnsafe, typeName) {
		return timeline.Unsafe
	}
	if matchAny(c.verifiable, typeName) {
		return timeline.Verifiable
	}
	if matchAny(c.guaranteedSafe, typeName) {
		return timeline.Guaranteed
	}
	return timeline.Conditional
}

func (c *Classifier) classifyField(fieldName, fieldType string) (Risk, bool) {
	if p, ok := matchFirst(c.criticalUnsafe, fieldType); ok {
		return Risk{FieldName: fieldName, TypeName: fieldType, Severity: SeverityCritical, Description: p.Description}, true
	}
	if p, ok := matchFirst(c.verifiable, fieldType); ok {
		return Risk{FieldName: fieldName, TypeName: fieldType, Severity: SeverityWarning, Description: p.Description}, true
	}
	if _, ok := matchFirst(c.guaranteedSafe, fieldType); ok {
		return Risk{}, false
	}
	return Risk{FieldName: fieldName, TypeName: fieldType, Severity: SeverityInfo, Description: "unrecognized type"}, true
}

func matchAny(patterns []pattern, name string) bool {
	_, ok := matchFirst(patterns, name)
	return ok
}

func matchFirst(patterns []pattern, name string) (pattern, bool) {
	for _, p := range patterns {
		if p.Regexp.MatchString(name) {
			return p, true
		}
	}
	return pattern{}, false
}
