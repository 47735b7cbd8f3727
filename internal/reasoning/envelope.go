package reasoning

import (
	"bytes"
	"encoding/json"
)

// Envelope is a decoded guardrail response. It is one of DirectEnvelope,
// TraceEnvelope or UnrecognizedEnvelope.
type Envelope interface {
	envelope()
}

// DirectEnvelope is the ApplyGuardrail shape: a top-level assessments list.
type DirectEnvelope struct {
	Assessments []Assessment
}

// TraceEnvelope is the Converse shape: trace.guardrail.outputAssessments,
// kept as an ordered association list in document order.
type TraceEnvelope struct {
	Groups []AssessmentGroup
}

// UnrecognizedEnvelope is any document carrying neither known shape.
type UnrecognizedEnvelope struct{}

func (DirectEnvelope) envelope()       {}
func (TraceEnvelope) envelope()        {}
func (UnrecognizedEnvelope) envelope() {}

// AssessmentGroup is one entry of the outputAssessments mapping
type AssessmentGroup struct {
	Key         string
	Assessments []Assessment
}

// Assessment is a single guardrail assessment. Policy is nil when the
// assessment carries no automatedReasoningPolicy.
type Assessment struct {
	Policy *PolicyAssessment
}

// PolicyAssessment holds the raw finding payloads of a reasoning policy
type PolicyAssessment struct {
	Findings []json.RawMessage
}

// Decode classifies a response document. It never fails: malformed or
// wrong-typed values decode as absent.
func Decode(raw []byte) Envelope {
	top := decodeObject(raw)
	if top == nil {
		return UnrecognizedEnvelope{}
	}

	// Direct shape wins whenever its key exists, even if trace is present too
	if assessments, ok := top["assessments"]; ok {
		return DirectEnvelope{Assessments: decodeAssessments(assessments)}
	}

	trace := decodeObject(top["trace"])
	guardrail := decodeObject(trace["guardrail"])
	if outputs, ok := guardrail["outputAssessments"]; ok {
		return TraceEnvelope{Groups: decodeGroups(outputs)}
	}

	return UnrecognizedEnvelope{}
}

// decodeObject returns nil for anything that is not a JSON object
func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// decodeList returns nil for anything that is not a JSON array
func decodeList(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

func decodeAssessments(raw json.RawMessage) []Assessment {
	items := decodeList(raw)
	assessments := make([]Assessment, 0, len(items))
	for _, item := range items {
		var a Assessment
		if policy, ok := decodeObject(item)["automatedReasoningPolicy"]; ok {
			a.Policy = &PolicyAssessment{
				Findings: decodeList(decodeObject(policy)["findings"]),
			}
		}
		assessments = append(assessments, a)
	}
	return assessments
}

// decodeGroups walks the mapping token by token so key order survives
func decodeGroups(raw json.RawMessage) []AssessmentGroup {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var groups []AssessmentGroup
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return groups
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return groups
		}
		groups = append(groups, AssessmentGroup{
			Key:         key,
			Assessments: decodeAssessments(value),
		})
	}
	return groups
}
