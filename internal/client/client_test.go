package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientType_AllConstants(t *testing.T) {
	// Verify all client type constants are defined and have expected values
	require.Equal(t, ClientType("claude"), ClientClaude)
	require.Equal(t, ClientType("mock"), ClientMock)
}

func TestNewClient_UnknownType(t *testing.T) {
	_, err := NewClient(ClientType("nope"))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnknownClientType)
}

func TestRegisterClient_Roundtrip(t *testing.T) {
	registered := ClientType("test-registered")
	RegisterClient(registered, func() HeadlessClient {
		return stubClient{typ: registered}
	})

	require.True(t, IsRegistered(registered))
	require.Contains(t, RegisteredClients(), registered)

	c, err := NewClient(registered)
	require.NoError(t, err)
	require.Equal(t, registered, c.Type())
}

type stubClient struct {
	typ ClientType
}

func (s stubClient) Type() ClientType { return s.typ }

func (s stubClient) Spawn(ctx context.Context, cfg Config) (HeadlessProcess, error) {
	return nil, nil
}
