// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// defaultBedrockModel is Titan Text Embeddings V2.
const defaultBedrockModel = "amazon.titan-embed-text-v2:0"

// Bedrock generates embeddings through AWS Bedrock. Titan embedding models
// accept one text per InvokeModel call, so batches fan out sequentially.
type Bedrock struct {
	client    *bedrockruntime.Client
	model     string
	dimension int
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewBedrock creates the backend using the default AWS credential chain.
func NewBedrock(ctx context.Context, region, model string, dimension int) (*Bedrock, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	if model == "" {
		model = defaultBedrockModel
	}
	logger.Infof("Using Bedrock embeddings (model %s, region %s)", model, awsCfg.Region)

	return &Bedrock{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed invokes the model once per text.
func (b *Bedrock) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := b.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (b *Bedrock) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: b.dimension})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Bedrock request: %w", err)
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("Bedrock InvokeModel failed: %w", err)
	}

	var parsed titanEmbedResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode Bedrock response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("Bedrock returned an empty embedding")
	}
	return parsed.Embedding, nil
}

// Dimension returns the configured vector width.
func (b *Bedrock) Dimension() int {
	return b.dimension
}
