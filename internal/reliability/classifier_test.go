package reliability

import "testing"

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{0: "none", 200: "2xx", 422: "4xx", 503: "5xx", 302: "other"}
	for code, want := range cases {
		if got := StatusClass(code); got != want {
			t.Fatalf("StatusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
