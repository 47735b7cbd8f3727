// Package reasoning normalizes automated reasoning findings out of
// guardrail responses and evaluates them against expected results.
package reasoning

import "encoding/json"

// Finding is one normalized automated reasoning determination
type Finding struct {
	Result  Result          `json:"result"`
	Finding json.RawMessage `json:"finding"`
	Rules   []RuleRef       `json:"rules"`
}

// RuleRef is one rule entry as the service sent it: normally an object with
// an identifier and policy metadata, but any JSON value is carried through.
type RuleRef json.RawMessage

// MarshalJSON writes the entry unchanged
func (r RuleRef) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the entry
func (r *RuleRef) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// Identifier returns the rule's "identifier", or "" when absent
func (r RuleRef) Identifier() string {
	return r.field("identifier")
}

// PolicyVersionArn returns the rule's "policyVersionArn", or "" when absent
func (r RuleRef) PolicyVersionArn() string {
	return r.field("policyVersionArn")
}

func (r RuleRef) field(key string) string {
	var s string
	if err := json.Unmarshal(decodeObject(json.RawMessage(r))[key], &s); err != nil {
		return ""
	}
	return s
}

// VariantRules returns the supporting then contradicting rules nested in the
// variant body of the finding payload. Live service responses place them
// there; Rules only holds the payload's top-level lists.
func (f Finding) VariantRules() []RuleRef {
	fields := decodeObject(f.Finding)
	_, variantKey := classify(fields)
	if variantKey == "" {
		if _, ok := fields["impossible"]; !ok {
			return []RuleRef{}
		}
		variantKey = "impossible"
	}
	return ruleLists(decodeObject(fields[variantKey]))
}

// AllRules returns Rules followed by VariantRules
func (f Finding) AllRules() []RuleRef {
	return append(append([]RuleRef{}, f.Rules...), f.VariantRules()...)
}

// classification keys in priority order (first match wins)
var classifiers = []struct {
	key    string
	result Result
}{
	{"satisfiable", ResultSatisfiable},
	{"valid", ResultValid},
	{"invalid", ResultInvalid},
	{"translationAmbiguous", ResultAmbiguous},
}

// ExtractFindings flattens every reasoning-policy finding of the envelope,
// in assessment order then finding order.
func ExtractFindings(env Envelope) []Finding {
	findings := []Finding{}

	switch e := env.(type) {
	case DirectEnvelope:
		findings = appendAssessments(findings, e.Assessments)
	case TraceEnvelope:
		for _, group := range e.Groups {
			findings = appendAssessments(findings, group.Assessments)
		}
	case UnrecognizedEnvelope, nil:
	}

	return findings
}

// ExtractFindingsJSON decodes a raw response document and extracts its findings
func ExtractFindingsJSON(raw []byte) []Finding {
	return ExtractFindings(Decode(raw))
}

// LastResult returns the result of the final finding, the value a test
// run reports as its actual outcome.
func LastResult(findings []Finding) Result {
	if len(findings) == 0 {
		return ResultNone
	}
	return findings[len(findings)-1].Result
}

func appendAssessments(findings []Finding, assessments []Assessment) []Finding {
	for _, a := range assessments {
		if a.Policy == nil {
			continue
		}
		for _, raw := range a.Policy.Findings {
			findings = append(findings, parseFinding(raw))
		}
	}
	return findings
}

func parseFinding(raw json.RawMessage) Finding {
	fields := decodeObject(raw)

	result, _ := classify(fields)

	return Finding{
		Result:  result,
		Finding: append(json.RawMessage(nil), raw...),
		Rules:   ruleLists(fields),
	}
}

func classify(fields map[string]json.RawMessage) (Result, string) {
	for _, c := range classifiers {
		if _, ok := fields[c.key]; ok {
			return c.result, c.key
		}
	}
	return ResultNone, ""
}

// ruleLists concatenates supportingRules and contradictingRules of obj
func ruleLists(obj map[string]json.RawMessage) []RuleRef {
	rules := []RuleRef{}
	for _, key := range []string{"supportingRules", "contradictingRules"} {
		for _, item := range decodeList(obj[key]) {
			rules = append(rules, RuleRef(item))
		}
	}
	return rules
}
