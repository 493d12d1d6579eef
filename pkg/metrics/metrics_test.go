package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_AttachesEveryCollectorWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one metric family to be registered")
	}
}

func TestIngressRequestsTotal_IncrementsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(IngressRequestsTotal)
	IngressRequestsTotal.Reset()

	IngressRequestsTotal.WithLabelValues("anthropic", "200").Inc()
	IngressRequestsTotal.WithLabelValues("anthropic", "200").Inc()
	IngressRequestsTotal.WithLabelValues("openai", "500").Inc()

	if got := testutil.ToFloat64(IngressRequestsTotal.WithLabelValues("anthropic", "200")); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(IngressRequestsTotal.WithLabelValues("openai", "500")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}
