package compliance

import "testing"

func TestRedactCardNumbers(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		redacted bool
	}{
		{"my card is 4111 1111 1111 1111 thanks", "my card is [card ending 1111] thanks", true},
		{"4242-4242-4242-4242", "[card ending 4242]", true},
		{"call me at 4155550100", "call me at 4155550100", false},
		{"1234 5678 9012 3456", "1234 5678 9012 3456", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, redacted := RedactCardNumbers(tc.in)
		if got != tc.want || redacted != tc.redacted {
			t.Fatalf("RedactCardNumbers(%q)=(%q,%v) want (%q,%v)", tc.in, got, redacted, tc.want, tc.redacted)
		}
	}
}
