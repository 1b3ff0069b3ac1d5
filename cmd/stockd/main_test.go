package main

import (
	stdtesting "testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	_ "github.com/odyssey-erp/odyssey-stock/testing"
)

func TestMainSkipsInTestMode(t *stdtesting.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
