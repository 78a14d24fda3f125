package testutil

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"realty/server/internal/remote"
)

// MockStore is a testify mock of remote.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Select(ctx context.Context, q remote.Query) ([]json.RawMessage, error) {
	args := m.Called(ctx, q)
	rows, _ := args.Get(0).([]json.RawMessage)
	return rows, args.Error(1)
}

func (m *MockStore) Insert(ctx context.Context, table string, record interface{}) (json.RawMessage, error) {
	args := m.Called(ctx, table, record)
	row, _ := args.Get(0).(json.RawMessage)
	return row, args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, table, id string, patch map[string]interface{}) (json.RawMessage, error) {
	args := m.Called(ctx, table, id, patch)
	row, _ := args.Get(0).(json.RawMessage)
	return row, args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, table, id string) error {
	args := m.Called(ctx, table, id)
	return args.Error(0)
}

// Rows turns JSON literals into a Select result
func Rows(docs ...string) []json.RawMessage {
	rows := make([]json.RawMessage, len(docs))
	for i, doc := range docs {
		rows[i] = json.RawMessage(doc)
	}
	return rows
}
