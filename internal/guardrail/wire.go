package guardrail

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ppiankov/archeck/internal/awswire"
)

// The SDK decodes responses into typed structs and union interfaces. The
// functions below rebuild the service's JSON wire shape from them so the
// reasoning package can work on one documented format.

// applyDocument rebuilds an ApplyGuardrail response document
func applyDocument(out *bedrockruntime.ApplyGuardrailOutput) (map[string]any, error) {
	doc, err := awswire.Object(out)
	if err != nil {
		return nil, err
	}

	assessments := make([]any, 0, len(out.Assessments))
	for _, a := range out.Assessments {
		ad, err := assessmentDocument(a)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, ad)
	}
	doc["assessments"] = assessments

	return doc, nil
}

// converseDocument rebuilds a Converse response document
func converseDocument(out *bedrockruntime.ConverseOutput) (map[string]any, error) {
	doc, err := awswire.Object(out)
	if err != nil {
		return nil, err
	}
	delete(doc, "output")
	delete(doc, "trace")

	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		doc["output"] = map[string]any{"message": messageDocument(msg.Value)}
	}

	if out.Trace != nil && out.Trace.Guardrail != nil {
		gd, err := traceDocument(out.Trace.Guardrail)
		if err != nil {
			return nil, err
		}
		doc["trace"] = map[string]any{"guardrail": gd}
	}

	return doc, nil
}

func traceDocument(t *types.GuardrailTraceAssessment) (map[string]any, error) {
	doc, err := awswire.Object(t)
	if err != nil {
		return nil, err
	}
	delete(doc, "inputAssessment")
	delete(doc, "outputAssessments")

	if t.InputAssessment != nil {
		inputs := make(map[string]any, len(t.InputAssessment))
		for key, a := range t.InputAssessment {
			ad, err := assessmentDocument(a)
			if err != nil {
				return nil, err
			}
			inputs[key] = ad
		}
		doc["inputAssessment"] = inputs
	}

	if t.OutputAssessments != nil {
		// encoding/json writes map keys sorted, so group order is stable
		outputs := make(map[string]any, len(t.OutputAssessments))
		for key, list := range t.OutputAssessments {
			group := make([]any, 0, len(list))
			for _, a := range list {
				ad, err := assessmentDocument(a)
				if err != nil {
					return nil, err
				}
				group = append(group, ad)
			}
			outputs[key] = group
		}
		doc["outputAssessments"] = outputs
	}

	return doc, nil
}

func assessmentDocument(a types.GuardrailAssessment) (map[string]any, error) {
	doc, err := awswire.Object(a)
	if err != nil {
		return nil, err
	}
	delete(doc, "automatedReasoningPolicy")

	if a.AutomatedReasoningPolicy != nil {
		findings := make([]any, 0, len(a.AutomatedReasoningPolicy.Findings))
		for _, f := range a.AutomatedReasoningPolicy.Findings {
			fd, err := findingDocument(f)
			if err != nil {
				return nil, err
			}
			findings = append(findings, fd)
		}
		doc["automatedReasoningPolicy"] = map[string]any{"findings": findings}
	}

	return doc, nil
}

// findingDocument keys the finding body by its variant name, the way the
// service serializes the union
func findingDocument(f types.GuardrailAutomatedReasoningFinding) (map[string]any, error) {
	var key string
	var body any

	switch v := f.(type) {
	case *types.GuardrailAutomatedReasoningFindingMemberValid:
		key, body = "valid", v.Value
	case *types.GuardrailAutomatedReasoningFindingMemberInvalid:
		key, body = "invalid", v.Value
	case *types.GuardrailAutomatedReasoningFindingMemberSatisfiable:
		key, body = "satisfiable", v.Value
	case *types.GuardrailAutomatedReasoningFindingMemberImpossible:
		key, body = "impossible", v.Value
	case *types.GuardrailAutomatedReasoningFindingMemberTranslationAmbiguous:
		key, body = "translationAmbiguous", v.Value
	case *types.GuardrailAutomatedReasoningFindingMemberTooComplex:
		key, body = "tooComplex", v.Value
	case *types.GuardrailAutomatedReasoningFindingMemberNoTranslations:
		key, body = "noTranslations", v.Value
	case *types.UnknownUnionMember:
		return map[string]any{v.Tag: map[string]any{}}, nil
	default:
		return map[string]any{}, nil
	}

	value, err := awswire.Value(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s finding: %w", key, err)
	}
	if value == nil {
		value = map[string]any{}
	}
	return map[string]any{key: value}, nil
}

func messageDocument(m types.Message) map[string]any {
	content := make([]any, 0, len(m.Content))
	for _, block := range m.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			content = append(content, map[string]any{"text": text.Value})
		}
	}
	return map[string]any{
		"role":    string(m.Role),
		"content": content,
	}
}

// messageText concatenates the text blocks of a message
func messageText(m types.Message) string {
	var b strings.Builder
	for _, block := range m.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String()
}
