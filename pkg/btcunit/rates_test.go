package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestFeeRateConversions checks that the conversion between the different fee
// rate units is correct.
func TestFeeRateConversions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		rate       SatPerVByte
		expectedKW SatPerKWeight
		expectedVB string
	}{
		{
			name:       "1 sat/vb",
			rate:       NewSatPerVByte(1, NewVByte(1)),
			expectedKW: NewSatPerKWeight(250, NewWeightUnit(1000)),
			expectedVB: "1.000 sat/vb",
		},
		{
			name:       "2 sat/vb",
			rate:       NewSatPerVByte(2, NewVByte(1)),
			expectedKW: NewSatPerKWeight(500, NewWeightUnit(1000)),
			expectedVB: "2.000 sat/vb",
		},
		{
			name:       "0.11 sat/vb",
			rate:       NewSatPerVByte(11, NewVByte(100)),
			expectedKW: NewSatPerKWeight(27500, NewWeightUnit(1000000)),
			expectedVB: "0.110 sat/vb",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.True(t, tc.expectedKW.Equal(tc.rate.ToSatPerKWeight()))
			require.True(t, tc.rate.Equal(
				tc.expectedKW.ToSatPerVByte(),
			))
			require.Equal(t, tc.expectedVB, tc.rate.String())
		})
	}
}

// TestParseSatPerVByte checks decimal parsing of user supplied fee rates.
func TestParseSatPerVByte(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		want    SatPerVByte
		wantErr bool
	}{
		{
			name:  "integer",
			input: "2",
			want:  NewSatPerVByte(2, NewVByte(1)),
		},
		{
			name:  "decimal",
			input: "2.5",
			want:  NewSatPerVByte(5, NewVByte(2)),
		},
		{
			name:  "padded",
			input: " 1.0 ",
			want:  NewSatPerVByte(1, NewVByte(1)),
		},
		{
			name:    "negative",
			input:   "-1",
			wantErr: true,
		},
		{
			name:    "garbage",
			input:   "fast",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSatPerVByte(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidFeeRate)
				return
			}

			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "got %v", got)
		})
	}
}

// TestFeeRateComparisons tests the comparison methods of the fee rate types.
func TestFeeRateComparisons(t *testing.T) {
	t.Parallel()

	r1 := NewSatPerVByte(1, NewVByte(1))
	r2 := NewSatPerVByte(2, NewVByte(1))
	r3 := NewSatPerKWeight(250, NewWeightUnit(1000)).ToSatPerVByte()

	require.True(t, r1.Equal(r3))
	require.False(t, r1.Equal(r2))
	require.True(t, r2.GreaterThan(r1))
	require.False(t, r1.GreaterThan(r3))
	require.True(t, r1.LessThan(r2))
	require.False(t, r2.LessThan(r1))

	k1, k2 := r1.ToSatPerKWeight(), r2.ToSatPerKWeight()
	require.True(t, k1.LessThanOrEqual(k2))
	require.True(t, k1.LessThanOrEqual(r3.ToSatPerKWeight()))
	require.False(t, k2.LessThanOrEqual(k1))
}

// TestFeeForWeightRoundUp checks that the FeeForWeightRoundUp method correctly
// rounds up the fee for a given weight.
func TestFeeForWeightRoundUp(t *testing.T) {
	t.Parallel()

	oneSat := NewSatPerVByte(1, NewVByte(1)).ToSatPerKWeight()
	twoSat := NewSatPerVByte(2, NewVByte(1)).ToSatPerKWeight()

	// 674 weight units is 168.5 vb.
	require.EqualValues(t, 168, oneSat.FeeForWeight(NewWeightUnit(674)))
	require.EqualValues(
		t, 169, oneSat.FeeForWeightRoundUp(NewWeightUnit(674)),
	)

	// A single P2WPKH input spent to a single P2WPKH output weighs 439
	// wu with a worst case signature.
	require.EqualValues(
		t, 110, oneSat.FeeForWeightRoundUp(NewWeightUnit(439)),
	)
	require.EqualValues(
		t, 220, twoSat.FeeForWeightRoundUp(NewWeightUnit(439)),
	)
	require.Equal(t, btcutil.Amount(250), oneSat.FeeForVByte(NewVByte(250)))
}

// TestFloat64ReadBack checks the display conversion used to report the rate
// a transaction actually pays.
func TestFloat64ReadBack(t *testing.T) {
	t.Parallel()

	rate := NewSatPerVByte(220, NewVByte(82))
	require.InDelta(t, 2.682927, rate.Float64(), 1e-6)
	require.Equal(t, "2.683 sat/vb", rate.String())
}

// TestZeroValues checks that zero values of the rate types are usable.
func TestZeroValues(t *testing.T) {
	t.Parallel()

	var rate SatPerKWeight
	require.True(t, rate.IsZero())
	require.True(t, rate.Equal(ZeroSatPerKWeight))
	require.Zero(t, rate.FeeForWeightRoundUp(NewWeightUnit(1000)))

	require.True(t, ZeroSatPerVByte.Equal(NewSatPerVByte(10, NewVByte(0))))
	require.Equal(t, "0.000 sat/vb", ZeroSatPerVByte.String())
	require.Equal(t, "0.000 sat/kw", ZeroSatPerKWeight.String())
}
