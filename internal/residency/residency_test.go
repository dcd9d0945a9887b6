package residency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectorrt/runtime/internal/connector"
)

func TestGetResidencyReportDefaultsToUS(t *testing.T) {
	r := New(NewInMemoryStore())
	report, ok := r.GetResidencyReport(context.Background(), "unknown-org")
	require.True(t, ok)
	assert.Equal(t, DefaultRegion, report.Region)
}

func TestGetResidencyReportReturnsConfiguredRegion(t *testing.T) {
	store := NewInMemoryStore()
	store.Set("org-eu", &connector.ResidencyReport{Region: "eu", DataResidency: "strict"})
	r := New(store)

	report, ok := r.GetResidencyReport(context.Background(), "org-eu")
	require.True(t, ok)
	assert.Equal(t, "eu", report.Region)
}

func TestGetResidencyReportEmptyOrgDefaultsToUS(t *testing.T) {
	r := New(nil)
	report, ok := r.GetResidencyReport(context.Background(), "")
	require.True(t, ok)
	assert.Equal(t, DefaultRegion, report.Region)
}
