package provider

import (
	"context"
	"errors"
	"testing"
)

type fakeStreamer struct{}

func (fakeStreamer) Recv() (Chunk, error) { return Chunk{Done: true}, nil }
func (fakeStreamer) Close() error         { return nil }

type fakeClient struct{ model string }

func (c fakeClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	return fakeStreamer{}, nil
}

func TestResolveUsesDefaultsWhenEmpty(t *testing.T) {
	r := NewRegistry()
	var gotModel string
	r.Register(Anthropic, func(model string) (Client, error) {
		gotModel = model
		return fakeClient{model: model}, nil
	})

	if _, err := r.Resolve("", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotModel != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, gotModel)
	}
}

func TestResolveUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("does-not-exist", "some-model"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register(OpenAI, func(model string) (Client, error) { return nil, errors.New("first") })
	r.Register(OpenAI, func(model string) (Client, error) { return fakeClient{}, nil })

	c, err := r.Resolve(OpenAI, "gpt-5")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil client from second registration")
	}
}

func TestNamesReturnsDefensiveCopy(t *testing.T) {
	r := NewRegistry()
	r.Register(Anthropic, func(model string) (Client, error) { return fakeClient{}, nil })

	names := r.Names()
	names[0] = "mutated"

	names2 := r.Names()
	if names2[0] == "mutated" {
		t.Error("Names should return a copy, not the live slice")
	}
}
