package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestConvertNepaliDigits(t *testing.T) {
	got := ConvertNepaliDigits(strPtr("०१२३४५६७८९"))
	require.NotNil(t, got)
	assert.Equal(t, "0123456789", *got)

	mixed := ConvertNepaliDigits(strPtr("बिल नं. ४५-A/२०८२"))
	require.NotNil(t, mixed)
	assert.Equal(t, "बिल नं. 45-A/2082", *mixed)

	assert.Nil(t, ConvertNepaliDigits(nil))
	assert.Nil(t, ConvertNepaliDigits(strPtr("")))
}

func TestNormalizeString(t *testing.T) {
	cases := []struct {
		in   string
		want *string
	}{
		{"  Himalayan   Traders\t\n", strPtr("Himalayan Traders")},
		{"a\x00b\x07c", strPtr("abc")},
		{"line1\r\nline2", strPtr("line1 line2")},
		{"   ", nil},
		{"\u200b", nil},
	}
	for _, tc := range cases {
		got := NormalizeString(strPtr(tc.in))
		if tc.want == nil {
			assert.Nil(t, got, "input %q", tc.in)
			continue
		}
		require.NotNil(t, got, "input %q", tc.in)
		assert.Equal(t, *tc.want, *got, "input %q", tc.in)
	}
	assert.Nil(t, NormalizeString(nil))
}

func TestNormalizeVendorName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Himalayan Traders Pvt. Ltd.", "himalayan traders"},
		{"HIMALAYAN TRADERS PVT LTD", "himalayan traders"},
		{"Everest Bank Limited", "everest bank"},
		{"Sagarmatha Private Limited", "sagarmatha"},
		{"हिमालय ट्रेडर्स प्रा. लि.", "हिमालय ट्रेडर्स"},
		{"नेपाल टेलिकम लिमिटेड", "नेपाल टेलिकम"},
		// only one suffix is stripped
		{"Acme Ltd Ltd", "acme ltd"},
		// suffix must start at a word boundary
		{"Holtd", "holtd"},
		{"Ltd", "ltd"},
	}
	for _, tc := range cases {
		got := NormalizeVendorName(strPtr(tc.in))
		require.NotNil(t, got, "input %q", tc.in)
		assert.Equal(t, tc.want, *got, "input %q", tc.in)
	}
	assert.Nil(t, NormalizeVendorName(strPtr("  ")))
}

func TestNormalizeInvoiceNumber(t *testing.T) {
	got := NormalizeInvoiceNumber(strPtr(" INV/२०८२-००४५ "))
	require.NotNil(t, got)
	assert.Equal(t, "inv2082-0045", *got)

	assert.Nil(t, NormalizeInvoiceNumber(strPtr("#/ .")))
	assert.Nil(t, NormalizeInvoiceNumber(nil))
}

func TestNormalizePAN(t *testing.T) {
	pan, ok := NormalizePAN(strPtr("PAN: ६०१ २३४ ५६७"))
	require.NotNil(t, pan)
	assert.Equal(t, "601234567", *pan)
	assert.True(t, ok)

	pan, ok = NormalizePAN(strPtr("12345"))
	require.NotNil(t, pan)
	assert.Equal(t, "12345", *pan)
	assert.False(t, ok)

	pan, ok = NormalizePAN(strPtr("n/a"))
	assert.Nil(t, pan)
	assert.False(t, ok)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1130", "1130"},
		{"1,130.50", "1130.5"},
		{"रु १,१३०", "1130"},
		{"Rs. 1,13,000/-", "113000"},
		{"NPR 2 500", "2500"},
		{"-20", "-20"},
		{"(45.10)", "-45.1"},
		{"0", "0"},
	}
	for _, tc := range cases {
		got := ParseAmountString(tc.in)
		require.NotNil(t, got, "input %q", tc.in)
		assert.Equal(t, tc.want, got.String(), "input %q", tc.in)
	}

	for _, bad := range []string{"", "abc", "12abc", "1.2.3", ".", "रु"} {
		assert.Nil(t, ParseAmountString(bad), "input %q", bad)
	}
	assert.Nil(t, ParseAmount(nil))
}
