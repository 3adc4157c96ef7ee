package validation

import "testing"

func TestNormalizeCouponCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{
			name: "lowercase",
			code: "spring2026",
			want: "SPRING2026",
		},
		{
			name: "surrounding spaces",
			code: "  sale10 ",
			want: "SALE10",
		},
		{
			name: "already normalized",
			code: "WELCOME",
			want: "WELCOME",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCouponCode(tt.code)
			if got != tt.want {
				t.Fatalf("NormalizeCouponCode(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestIsValidCouponCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "letters and digits",
			code:  "SPRING2026",
			valid: true,
		},
		{
			name:  "minimal length",
			code:  "SALE",
			valid: true,
		},
		{
			name:  "too short",
			code:  "AB1",
			valid: false,
		},
		{
			name:  "too long",
			code:  "A123456789012345678901234567890123",
			valid: false,
		},
		{
			name:  "contains dash",
			code:  "SALE-10",
			valid: false,
		},
		{
			name:  "contains space",
			code:  "SALE 10",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCouponCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidCouponCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}
