package envutil

import "testing"

func TestGetEnvOrFallback(t *testing.T) {
	t.Setenv("PROXYPROF_TEST_SET", "gs://profiles")
	t.Setenv("PROXYPROF_TEST_EMPTY", "")

	if got := GetEnvOrFallback("PROXYPROF_TEST_SET", "file:///tmp"); got != "gs://profiles" {
		t.Fatalf("expected the environment value, got %q", got)
	}
	if got := GetEnvOrFallback("PROXYPROF_TEST_EMPTY", "file:///tmp"); got != "file:///tmp" {
		t.Fatalf("expected the fallback, got %q", got)
	}
}

func TestGetIntOrFallback(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int
		wantErr bool
	}{
		{name: "unset", value: "", want: 30},
		{name: "set", value: "7", want: 7},
		{name: "invalid", value: "seven", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Setenv("PROXYPROF_TEST_DAYS", test.value)
			got, err := GetIntOrFallback("PROXYPROF_TEST_DAYS", 30)
			if (err != nil) != test.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != test.want {
				t.Fatalf("expected %d, got %d", test.want, got)
			}
		})
	}
}
