package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/pkg/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), &config.Config{ServiceName: "test"}, nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}
