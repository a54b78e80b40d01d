package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/import-cli/pkg/anthropic"
	"github.com/sells-group/import-cli/pkg/serp"
)

type mockCompletionClient struct {
	mock.Mock
}

func (m *mockCompletionClient) Complete(ctx context.Context, req anthropic.CompletionRequest) (*anthropic.CompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.CompletionResponse), args.Error(1)
}

type mockSearchClient struct {
	mock.Mock
}

func (m *mockSearchClient) Search(ctx context.Context, query string) (*serp.Results, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*serp.Results), args.Error(1)
}

type mockSalesforce struct {
	mock.Mock
}

func (m *mockSalesforce) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	return args.Error(0)
}

func (m *mockSalesforce) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *mockSalesforce) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}

// staticSecrets is a fixed-map SecretResolver for tests.
type staticSecrets map[string]string

func (s staticSecrets) Lookup(name string) (string, bool) {
	v, ok := s[name]
	return v, ok && v != ""
}
