package guardrail

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ErrNoContent is returned when neither a question nor an answer is given
var ErrNoContent = errors.New("no content provided")

// Source tells the guardrail whether content is model input or output
type Source string

const (
	SourceInput  Source = "INPUT"
	SourceOutput Source = "OUTPUT"
)

// Content is the text handed to the guardrail. For automated reasoning the
// question becomes the query and the answer the guarded content.
type Content struct {
	Question string
	Answer   string
}

// Kind classifies which parts of the content are present
type Kind string

const (
	KindQuestionAndAnswer Kind = "QUESTION_AND_ANSWER"
	KindAnswerOnly        Kind = "ANSWER_ONLY"
	KindQuestionOnly      Kind = "QUESTION_ONLY"
)

// Kind reports which parts are present
func (c Content) Kind() Kind {
	switch {
	case c.Question != "" && c.Answer != "":
		return KindQuestionAndAnswer
	case c.Answer != "":
		return KindAnswerOnly
	default:
		return KindQuestionOnly
	}
}

// Summary renders the content as "Q: ... | A: ..."
func (c Content) Summary() string {
	switch c.Kind() {
	case KindQuestionAndAnswer:
		return "Q: " + c.Question + " | A: " + c.Answer
	case KindAnswerOnly:
		return "A: " + c.Answer
	default:
		return "Q: " + c.Question
	}
}

// Blocks builds the ApplyGuardrail content blocks. A question+answer pair is
// qualified as query / guard_content; a lone part is sent unqualified.
func (c Content) Blocks() ([]types.GuardrailContentBlock, error) {
	switch {
	case c.Question != "" && c.Answer != "":
		return []types.GuardrailContentBlock{
			textBlock(c.Question, types.GuardrailContentQualifierQuery),
			textBlock(c.Answer, types.GuardrailContentQualifierGuardContent),
		}, nil
	case c.Answer != "":
		return []types.GuardrailContentBlock{textBlock(c.Answer)}, nil
	case c.Question != "":
		return []types.GuardrailContentBlock{textBlock(c.Question)}, nil
	default:
		return nil, ErrNoContent
	}
}

func textBlock(text string, qualifiers ...types.GuardrailContentQualifier) types.GuardrailContentBlock {
	return &types.GuardrailContentBlockMemberText{
		Value: types.GuardrailTextBlock{
			Text:       aws.String(text),
			Qualifiers: qualifiers,
		},
	}
}
