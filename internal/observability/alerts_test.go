package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestStockAlertRules(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "stock.yml"))
	require.NoError(t, err)

	var spec alertSpec
	require.NoError(t, yaml.Unmarshal(data, &spec))

	var stock *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "stock" {
			stock = &spec.Groups[i]
		}
	}
	require.NotNil(t, stock, "stock alert group missing")

	expected := map[string]struct {
		severity string
		metric   string
	}{
		"LedgerBalanceMismatch":  {severity: "critical", metric: "odyssey_stock_balance_mismatches_total"},
		"ProductionSweepFailing": {severity: "warning", metric: "odyssey_jobs_failures_total"},
		"ProductionSweepStalled": {severity: "warning", metric: "odyssey_stock_sweep_entries_total"},
		"StockAPIErrorRate":      {severity: "critical", metric: "odyssey_stock_http_requests_total"},
	}
	require.Len(t, stock.Rules, len(expected))
	for _, rule := range stock.Rules {
		want, ok := expected[rule.Alert]
		require.Truef(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, want.severity, rule.Labels["severity"], rule.Alert)
		require.Contains(t, rule.Expr, want.metric, rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
	}
}
