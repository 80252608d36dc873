package remote

import "testing"

func TestIsAllowedClientOrigin(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://ccbox.app", true},
		{"https://app.ccbox.app", true},
		{"https://foo.bar.ccbox.app", true},
		{"http://ccbox.app", false},
		{"https://ccbox.app.evil.com", false},
		{"https://evil.com", false},
		{"null", false},
	}
	for _, c := range cases {
		if got := isAllowedClientOrigin(c.origin); got != c.want {
			t.Errorf("isAllowedClientOrigin(%q) = %v, want %v", c.origin, got, c.want)
		}
	}
}
