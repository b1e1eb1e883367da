package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"strandbus/internal/domain"
)

// bedrockInvokeAPI abstracts the Bedrock runtime method for testability.
type bedrockInvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements domain.EmbeddingProvider via the Amazon
// Titan text embedding models on Bedrock. Titan embeds one text per
// invocation, so batches are issued sequentially.
type BedrockProvider struct {
	model  string
	dims   int
	client bedrockInvokeAPI
	logger *slog.Logger
}

// BedrockOption configures the Bedrock embedding provider.
type BedrockOption func(*BedrockProvider)

// WithBedrockModel sets the embedding model ID.
func WithBedrockModel(model string) BedrockOption {
	return func(p *BedrockProvider) { p.model = model }
}

// WithBedrockDimensions sets the embedding dimensions.
func WithBedrockDimensions(dims int) BedrockOption {
	return func(p *BedrockProvider) { p.dims = dims }
}

// NewBedrockProvider creates a Bedrock embedding provider using the
// default AWS credential chain.
func NewBedrockProvider(region string, logger *slog.Logger, opts ...BedrockOption) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	p := &BedrockProvider{
		model:  "amazon.titan-embed-text-v2:0",
		dims:   1024,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// newBedrockProviderWithClient creates a BedrockProvider with an
// injected client (for testing).
func newBedrockProviderWithClient(model string, dims int, client bedrockInvokeAPI, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{model: model, dims: dims, client: client, logger: logger}
}

// --- Titan embeddings wire types ---

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.EmbeddingProvider.
func (p *BedrockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

func (p *BedrockProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: p.dims})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding from %s", domain.ErrEmbeddingFailed, p.model)
	}
	return resp.Embedding, nil
}

// mapBedrockError translates AWS API errors into domain sentinels.
func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, err)
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
}

// Dimensions implements domain.EmbeddingProvider.
func (p *BedrockProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *BedrockProvider) Name() string { return "bedrock" }
