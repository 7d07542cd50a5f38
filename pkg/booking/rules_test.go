package booking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
)

func TestCarrierRate(t *testing.T) {
	tests := []struct {
		rate string
		pct  string
		want string
	}{
		{"1000", "80", "800.00"},
		{"1234.56", "85", "1049.38"},
		{"999.99", "33.3333", "333.33"},
		{"0.05", "50", "0.03"},
	}

	for _, tt := range tests {
		t.Run(tt.rate+"@"+tt.pct, func(t *testing.T) {
			got := CarrierRate(decimal.RequireFromString(tt.rate), decimal.RequireFromString(tt.pct))
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestDeriveTerms_RejectsOutOfRangePercentage(t *testing.T) {
	for _, pct := range []string{"0", "-5", "100.01"} {
		vehicle := &models.Vehicle{
			TruckType:            models.TruckTypeContractor,
			ContractorPercentage: decimal.NewNullDecimal(decimal.RequireFromString(pct)),
		}
		_, err := DeriveTerms(vehicle, decimal.NewFromInt(1000), DefaultStatusPolicy())
		assert.True(t, apperrors.Is(err, apperrors.KindPrecondition), pct)
	}
}

func TestDeriveTerms_ApprovalIgnoresContractorSplit(t *testing.T) {
	vehicle := &models.Vehicle{
		TruckType:            models.TruckTypeContractor,
		ContractorPercentage: decimal.NewNullDecimal(decimal.NewFromInt(80)),
		RequiresLoadApproval: true,
	}

	terms, err := DeriveTerms(vehicle, decimal.NewFromInt(1000), StatusPolicy{AutoApproved: "ready", NeedsApproval: "awaiting_approval"})
	require.NoError(t, err)
	assert.Equal(t, "awaiting_approval", terms.Status)
	assert.False(t, terms.CarrierApproved)
	assert.False(t, terms.CarrierRate.Valid)
	assert.Equal(t, models.TruckTypeContractor, terms.TruckTypeAtBooking)
}

func TestConfirmedRate(t *testing.T) {
	posting := &models.LoadPosting{Rate: decimal.NewNullDecimal(decimal.NewFromInt(1000))}

	rate, ok := ConfirmedRate(&models.Match{BidRate: decimal.NewNullDecimal(decimal.NewFromInt(1100))}, posting)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(1100)))

	rate, ok = ConfirmedRate(&models.Match{}, posting)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(1000)))

	_, ok = ConfirmedRate(&models.Match{}, &models.LoadPosting{})
	assert.False(t, ok)
}

func TestLoadNumber(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// 03:00 UTC is still the previous day in Chicago
	at := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "20261018", LoadNumberPrefix(at, nil))
	assert.Equal(t, "20261017", LoadNumberPrefix(at, chicago))

	assert.Equal(t, "20261018-001", FormatLoadNumber("20261018", 1))
	assert.Equal(t, "20261018-042", FormatLoadNumber("20261018", 42))
	assert.Equal(t, "20261018-1000", FormatLoadNumber("20261018", 1000))
}
