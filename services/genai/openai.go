// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a wedding vendor planning assistant. " +
	"Respond with a single JSON object of the form " +
	`{"kind": string, "items": [{"name": string, "tokens": [string], "shared_equipment": bool}]}. ` +
	"Tokens list every ingredient or material an item contains. " +
	"Never include items containing any avoided token. No prose, no markdown fences."

// OpenAICaller implements RawCaller against the OpenAI chat completion
// API in JSON mode.
type OpenAICaller struct {
	client *openai.Client
	model  string
}

// NewOpenAICaller builds the adapter from the environment. The API key
// comes from OPENAI_API_KEY or, failing that, a mounted container secret.
func NewOpenAICaller() (*OpenAICaller, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("initializing OpenAI caller", "model", model)
	return &OpenAICaller{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Call implements RawCaller. Transport faults and 5xx/429 responses are
// returned as-is for the retry loop; request-level rejections (4xx) are
// wrapped in *PermanentError so retrying stops.
func (o *OpenAICaller) Call(ctx context.Context, payload []byte) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", errInvalidPayload)
	}
	return []byte(resp.Choices[0].Message.Content), nil
}

// classifyAPIError separates transient provider failures from permanent
// request rejections.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("OpenAI API call failed: %w", err)
		case apiErr.HTTPStatusCode >= 400:
			return &PermanentError{Err: fmt.Errorf("OpenAI rejected the request: %w", err)}
		}
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}
