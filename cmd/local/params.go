package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const defaultModel = "gpt-4o-mini"

// envParams serves the two parameters the OpenAI client reads, in the same
// shapes Parameter Store holds them, from local environment values.
type envParams struct {
	prefix string
	apiKey string
	model  string
}

func paramsFromEnv(prefix string, getenv func(string) string) (*envParams, error) {
	key := strings.TrimSpace(getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	model := strings.TrimSpace(getenv("OPENAI_MODEL"))
	if model == "" {
		model = defaultModel
	}
	return &envParams{prefix: prefix, apiKey: key, model: model}, nil
}

func (p *envParams) GetParameter(_ context.Context, name string) (string, error) {
	switch name {
	case p.prefix + "/open-ai-token":
		b, err := json.Marshal(map[string]string{"token": p.apiKey})
		return string(b), err
	case p.prefix + "/config/openai_model":
		return p.model, nil
	}
	return "", fmt.Errorf("unknown parameter %q", name)
}
