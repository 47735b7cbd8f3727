// Package policy lists and exports automated reasoning policies and turns
// them into CloudFormation templates.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/awswire"
)

// ErrInvalidARN is returned for ARNs that are not policy version ARNs
var ErrInvalidARN = errors.New("invalid policy ARN")

// ErrNotFound is returned when no policy matches an identifier
var ErrNotFound = errors.New("policy not found")

// ControlAPI is the slice of the Bedrock control-plane client this package uses
type ControlAPI interface {
	ListAutomatedReasoningPolicies(ctx context.Context, params *bedrock.ListAutomatedReasoningPoliciesInput, optFns ...func(*bedrock.Options)) (*bedrock.ListAutomatedReasoningPoliciesOutput, error)
	ExportAutomatedReasoningPolicyVersion(ctx context.Context, params *bedrock.ExportAutomatedReasoningPolicyVersionInput, optFns ...func(*bedrock.Options)) (*bedrock.ExportAutomatedReasoningPolicyVersionOutput, error)
	ListTagsForResource(ctx context.Context, params *bedrock.ListTagsForResourceInput, optFns ...func(*bedrock.Options)) (*bedrock.ListTagsForResourceOutput, error)
}

// NewControlAPI creates a Bedrock control-plane client
func NewControlAPI(awsCfg aws.Config) *bedrock.Client {
	return bedrock.NewFromConfig(awsCfg)
}

// Summary describes one policy as listed by the service
type Summary struct {
	PolicyArn   string    `json:"policyArn"`
	PolicyID    string    `json:"policyId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Tag is a resource tag
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ARN holds the parts of a policy version ARN
type ARN struct {
	Region    string
	AccountID string
	PolicyID  string
	Version   string
}

// ParseARN splits arn:aws:bedrock:<region>:<account>:automated-reasoning-policy/<id>/<version>
func ParseARN(arn string) (ARN, error) {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return ARN{}, fmt.Errorf("%w: %s", ErrInvalidARN, arn)
	}
	resource := strings.Split(parts[5], "/")
	if len(resource) < 3 {
		return ARN{}, fmt.Errorf("%w: %s", ErrInvalidARN, arn)
	}
	return ARN{
		Region:    parts[3],
		AccountID: parts[4],
		PolicyID:  resource[1],
		Version:   resource[2],
	}, nil
}

// Service talks to the Bedrock control plane
type Service struct {
	api    ControlAPI
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewService wraps a control API. Listings are cached for the session.
func NewService(api ControlAPI, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		api:    api,
		cache:  gocache.New(5*time.Minute, 10*time.Minute),
		logger: logger.Named("policy"),
	}
}

const listCacheKey = "policies"

// List returns every automated reasoning policy in the region
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	if cached, ok := s.cache.Get(listCacheKey); ok {
		return cached.([]Summary), nil
	}

	var (
		summaries []Summary
		token     *string
	)
	for {
		out, err := s.api.ListAutomatedReasoningPolicies(ctx, &bedrock.ListAutomatedReasoningPoliciesInput{
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list policies: %w", err)
		}

		var page struct {
			Summaries []Summary `json:"automatedReasoningPolicySummaries"`
			NextToken string    `json:"nextToken"`
		}
		if err := awswire.Decode(out, &page); err != nil {
			return nil, fmt.Errorf("decode policy list: %w", err)
		}
		summaries = append(summaries, page.Summaries...)

		if page.NextToken == "" {
			break
		}
		token = aws.String(page.NextToken)
	}

	s.logger.Debug("listed policies", zap.Int("count", len(summaries)))
	if summaries == nil {
		summaries = []Summary{}
	}
	s.cache.SetDefault(listCacheKey, summaries)
	return summaries, nil
}

// Find returns the listed policy with the given id
func (s *Service) Find(ctx context.Context, policyID string) (Summary, error) {
	summaries, err := s.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	for _, sum := range summaries {
		if sum.PolicyID == policyID {
			return sum, nil
		}
	}
	return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, policyID)
}

// VersionARN returns the ARN of a specific version of a listed policy
func VersionARN(sum Summary, version string) string {
	if version == "" || version == sum.Version {
		return sum.PolicyArn
	}
	if parsed, err := ParseARN(sum.PolicyArn); err == nil {
		return strings.TrimSuffix(sum.PolicyArn, "/"+parsed.Version) + "/" + version
	}
	return sum.PolicyArn + "/" + version
}

// Export is an exported policy version
type Export struct {
	PolicyArn   string
	PolicyID    string
	Version     string
	Name        string
	Description string
	Tags        []Tag

	// Document is the export response in wire format
	Document map[string]any
}

// Definition returns the exported policy definition, or nil
func (e *Export) Definition() any {
	return e.Document["policyDefinition"]
}

// ExportOptions controls Export
type ExportOptions struct {
	IncludeTags bool

	// Name and Description fill in what the export response lacks
	Name        string
	Description string

	// PolicyID and Version name the export when arn is a bare policy ARN
	// (as listed) rather than a version ARN
	PolicyID string
	Version  string
}

// Export fetches a policy version by ARN
func (s *Service) Export(ctx context.Context, arn string, opts ExportOptions) (*Export, error) {
	parsed, err := ParseARN(arn)
	if err != nil {
		if opts.PolicyID == "" {
			return nil, err
		}
		parsed = ARN{PolicyID: opts.PolicyID, Version: opts.Version}
	}

	out, err := s.api.ExportAutomatedReasoningPolicyVersion(ctx, &bedrock.ExportAutomatedReasoningPolicyVersionInput{
		PolicyArn: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("export policy: %w", err)
	}
	doc, err := awswire.Object(out)
	if err != nil {
		return nil, fmt.Errorf("decode policy export: %w", err)
	}

	exp := &Export{
		PolicyArn:   arn,
		PolicyID:    parsed.PolicyID,
		Version:     parsed.Version,
		Name:        opts.Name,
		Description: opts.Description,
		Document:    doc,
	}
	if d, ok := doc["description"].(string); ok && exp.Description == "" {
		exp.Description = d
	}

	if opts.IncludeTags {
		tags, err := s.tags(ctx, arn)
		if err != nil {
			// tags are optional in the template
			s.logger.Warn("failed to list policy tags", zap.String("arn", arn), zap.Error(err))
		} else {
			exp.Tags = tags
		}
	}

	return exp, nil
}

func (s *Service) tags(ctx context.Context, arn string) ([]Tag, error) {
	out, err := s.api.ListTagsForResource(ctx, &bedrock.ListTagsForResourceInput{
		ResourceARN: aws.String(arn),
	})
	if err != nil {
		return nil, err
	}
	var view struct {
		Tags []Tag `json:"tags"`
	}
	if err := awswire.Decode(out, &view); err != nil {
		return nil, err
	}
	return view.Tags, nil
}
