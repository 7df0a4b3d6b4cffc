package ethunit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		name string
		wei  *big.Int
		want string
	}{
		{name: "nil amount", wei: nil, want: "0"},
		{name: "zero", wei: big.NewInt(0), want: "0"},
		{name: "one ether", wei: Ether(1), want: "1"},
		{name: "entrance fee", wei: wei("10000000000000000"), want: "0.01"},
		{name: "base fee", wei: wei("250000000000000000"), want: "0.25"},
		{name: "smallest unit", wei: big.NewInt(1), want: "0.000000000000000001"},
		{name: "pool of four", wei: wei("40000000000000000"), want: "0.04"},
		{name: "negative", wei: big.NewInt(-1), want: "-0.000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEther(tt.wei))
		})
	}
}

func TestParseEther(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    *big.Int
		wantErr bool
	}{
		{name: "one ether", amount: "1", want: Ether(1)},
		{name: "entrance fee", amount: "0.01", want: wei("10000000000000000")},
		{name: "leading dot", amount: ".5", want: wei("500000000000000000")},
		{name: "truncates extra decimals", amount: "0.0000000000000000019", want: big.NewInt(1)},
		{name: "empty", amount: "", wantErr: true},
		{name: "two dots", amount: "1.2.3", wantErr: true},
		{name: "negative", amount: "-1", wantErr: true},
		{name: "letters", amount: "abc", wantErr: true},
		{name: "plus sign", amount: "+1", wantErr: true},
		{name: "plus sign in decimals", amount: "0.+5", wantErr: true},
		{name: "minus sign in decimals", amount: "0.-5", wantErr: true},
		{name: "junk past 18 decimals", amount: "0.0000000000000000019x", wantErr: true},
		{name: "trailing dot", amount: "1.", want: Ether(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEther(tt.amount)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, tt.want.Cmp(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestParseWeiOrEther(t *testing.T) {
	got, err := ParseWeiOrEther("10000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "0.01", FormatEther(got))

	got, err = ParseWeiOrEther("0.01")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", got.String())

	got, err = ParseWeiOrEther("2 ETH")
	require.NoError(t, err)
	assert.Equal(t, 0, Ether(2).Cmp(got))

	for _, bad := range []string{"-5", "+5", "+0.5", "+1eth", "", "1_000"} {
		_, err = ParseWeiOrEther(bad)
		assert.Error(t, err, bad)
	}
}
