package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapGatewayStatus(t *testing.T) {
	cases := []struct {
		gatewayStatus string
		want          string
	}{
		{"COMPLETED", PaymentStatusPaid},
		{"FAILED", PaymentStatusFailed},
		{"CANCELLED", PaymentStatusCancelled},
		{"UNKNOWN", PaymentStatusPending},
		{"PROCESSING", PaymentStatusPending},
		{"", PaymentStatusPending},
		{"completed", PaymentStatusPending}, // vocabulary is case-sensitive
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, MapGatewayStatus(tc.gatewayStatus), "gateway status %q", tc.gatewayStatus)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.False(t, IsTerminalStatus(PaymentStatusPending))
	assert.True(t, IsTerminalStatus(PaymentStatusPaid))
	assert.True(t, IsTerminalStatus(PaymentStatusFailed))
	assert.True(t, IsTerminalStatus(PaymentStatusCancelled))
}

func TestTotalAmount(t *testing.T) {
	p := &Purchase{Quantity: 3, UnitPrice: 150000}
	assert.Equal(t, int64(450000), p.TotalAmount())
}
