package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", MPS, false},
		{"mps", MPS, false},
		{" MPH ", MPH, false},
		{"kph", KPH, false},
		{"kmph", KPH, false},
		{"knots", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "mps, mph, kph")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertSpeed(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 5.0, ConvertSpeed(5, MPS), 1e-12)
	assert.InDelta(t, 11.184681460272, ConvertSpeed(5, MPH), 1e-9)
	assert.InDelta(t, 18.0, ConvertSpeed(5, KPH), 1e-12)
	assert.InDelta(t, 5.0, ConvertSpeed(5, "furlongs"), 1e-12)
}

func TestLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "m/s", Label(MPS))
	assert.Equal(t, "mph", Label(MPH))
	assert.Equal(t, "km/h", Label(KPH))
}
