package session

import (
	"context"
	"encoding/json"
)

// Null is an explicit JSON null for Set.
var Null = json.RawMessage("null")

// Products returns the products shown in the display.
func (s *Session) Products(ctx context.Context) (any, error) {
	return s.Get(ctx, "products")
}

// NextScene moves the display to the scene after cursor.
func (s *Session) NextScene(ctx context.Context, cursor any) (any, error) {
	return s.Call(ctx, "nextScene", map[string]any{"cursor": cursor})
}

func (s *Session) SetFilter(ctx context.Context, filter any) error {
	return s.Set(ctx, "filter", filter)
}

func (s *Session) SetLanguage(ctx context.Context, language string) error {
	return s.Set(ctx, "language", language)
}

func (s *Session) SetConfig(ctx context.Context, config any) error {
	return s.Set(ctx, "config", config)
}
