package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultBedrockRegion = "us-east-1"

// ConverseAPI is the subset of the Bedrock runtime client used by the adapter.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOption configures a BedrockAdapter.
type BedrockOption func(*BedrockAdapter)

// WithConverseClient injects a Converse client instead of loading AWS config.
func WithConverseClient(c ConverseAPI) BedrockOption {
	return func(a *BedrockAdapter) { a.client = c }
}

// WithRegion sets the AWS region used when loading the default config.
func WithRegion(region string) BedrockOption {
	return func(a *BedrockAdapter) {
		if region != "" {
			a.region = region
		}
	}
}

// BedrockAdapter implements Adapter for anthropic.* and amazon.* models served
// through the Bedrock Converse API.
type BedrockAdapter struct {
	model  string
	region string
	client ConverseAPI
}

// NewBedrockAdapter creates an adapter for a Bedrock model id. Without an
// injected client it loads the default AWS credential chain.
func NewBedrockAdapter(ctx context.Context, model string, opts ...BedrockOption) (*BedrockAdapter, error) {
	a := &BedrockAdapter{model: model, region: defaultBedrockRegion}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		a.client = bedrockruntime.NewFromConfig(cfg)
	}
	return a, nil
}

// Model returns the configured model identifier.
func (a *BedrockAdapter) Model() string { return a.model }

// Generate sends the prompt through Converse.
func (a *BedrockAdapter) Generate(ctx context.Context, prompt string) (*Response, error) {
	out, err := a.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(a.model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	return NewResponse(ctx, parseConverseOutput(out), a.model), nil
}

func parseConverseOutput(out *bedrockruntime.ConverseOutput) Completion {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return UnstructuredCompletion(fmt.Sprintf("%+v", out.Output))
	}

	var text string
	found := false
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			if found {
				text += "\n"
			}
			text += tb.Value
			found = true
		}
	}
	if !found {
		return UnstructuredCompletion(fmt.Sprintf("%+v", msg.Value))
	}

	var usage Usage
	if out.Usage != nil {
		usage = Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return StructuredCompletion(text, usage)
}
