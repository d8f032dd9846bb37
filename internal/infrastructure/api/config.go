package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const configPath = "/v1/config"

// GetAllConfig returns the whole server configuration
func (g *EncapsiaGateway) GetAllConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	if err := g.call(ctx, request{method: http.MethodGet, path: configPath}, &out); err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	if out == nil {
		out = map[string]json.RawMessage{}
	}
	return out, nil
}

// GetConfig returns the value stored against key
func (g *EncapsiaGateway) GetConfig(ctx context.Context, key string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := g.call(ctx, request{method: http.MethodGet, path: configKeyPath(key)}, &out); err != nil {
		return nil, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return out, nil
}

// SetConfig stores value against key
func (g *EncapsiaGateway) SetConfig(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}
	r, err := jsonRequest(http.MethodPut, configKeyPath(key), value)
	if err != nil {
		return err
	}
	if err := g.call(ctx, r, nil); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// SetConfigMulti merges many keys into the configuration
func (g *EncapsiaGateway) SetConfigMulti(ctx context.Context, values map[string]json.RawMessage) error {
	r, err := jsonRequest(http.MethodPost, configPath, values)
	if err != nil {
		return err
	}
	if err := g.call(ctx, r, nil); err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	return nil
}

// DeleteConfig deletes key from the configuration
func (g *EncapsiaGateway) DeleteConfig(ctx context.Context, key string) error {
	if err := g.call(ctx, request{method: http.MethodDelete, path: configKeyPath(key)}, nil); err != nil {
		return fmt.Errorf("failed to delete config %s: %w", key, err)
	}
	return nil
}

func configKeyPath(key string) string {
	return configPath + "/" + url.PathEscape(key)
}
