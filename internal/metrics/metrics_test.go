package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterExposesAllCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	RequestsAccepted.WithLabelValues("true").Inc()
	SignaturesReceived.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"block_builder_requests_accepted_total",
		"block_builder_proposals_assembled_total",
		"block_builder_signatures_received_total",
		"block_builder_tasks_enqueued_total",
		"block_builder_posts_succeeded_total",
		"block_builder_posts_expired_total",
		"block_builder_rule_e_eliminations_total",
		"block_builder_nonce_waits_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestRequestsAcceptedIncrementsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	RequestsAccepted.WithLabelValues("false").Inc()
	RequestsAccepted.WithLabelValues("false").Inc()

	var m dto.Metric
	require.NoError(t, RequestsAccepted.WithLabelValues("false").Write(&m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}
