package testing

import (
	"os"
	stdtesting "testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
)

func TestInitEnablesTestMode(t *stdtesting.T) {
	require.True(t, app.InTestMode())
	for key := range testEnv {
		_, ok := os.LookupEnv(key)
		require.Truef(t, ok, "%s not set", key)
	}
}
