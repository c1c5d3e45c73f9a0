package batch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type echoProcessor struct{}

func (echoProcessor) ProcessItem(ctx context.Context, item json.RawMessage, index int) (json.RawMessage, error) {
	return item, nil
}

func TestNewService_ValidatesArguments(t *testing.T) {
	logger := zap.NewNop()
	processor := echoProcessor{}

	cases := []struct {
		name    string
		run     func() (*Service, error)
		wantErr string
	}{
		{
			name:    "nil connection",
			run:     func() (*Service, error) { return NewService(nil, processor, "BATCH", "worker", logger, nil) },
			wantErr: "connection cannot be nil",
		},
		{
			name:    "nil processor",
			run:     func() (*Service, error) { return NewService(&nats.Conn{}, nil, "BATCH", "worker", logger, nil) },
			wantErr: "processor cannot be nil",
		},
		{
			name:    "empty stream",
			run:     func() (*Service, error) { return NewService(&nats.Conn{}, processor, "", "worker", logger, nil) },
			wantErr: "stream name cannot be empty",
		},
		{
			name:    "empty consumer",
			run:     func() (*Service, error) { return NewService(&nats.Conn{}, processor, "BATCH", "", logger, nil) },
			wantErr: "consumer name cannot be empty",
		},
		{
			name:    "nil logger",
			run:     func() (*Service, error) { return NewService(&nats.Conn{}, processor, "BATCH", "worker", nil, nil) },
			wantErr: "logger cannot be nil",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := tc.run()
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestServiceOperationDelegatesToProcessor(t *testing.T) {
	svc := &Service{processor: echoProcessor{}}
	op := svc.operation()

	out, err := op(context.Background(), json.RawMessage(`{"k":"v"}`), 3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(out))
}
