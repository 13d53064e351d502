package version

import "testing"

func TestEffectivePrefersInjectedVersion(t *testing.T) {
	if got := Effective("v1.4.2"); got != "v1.4.2" {
		t.Errorf("Effective = %q", got)
	}
}

func TestIsDevelopmentVersion(t *testing.T) {
	cases := []struct {
		v    string
		want bool
	}{
		{"", true},
		{"dev", true},
		{"devel", true},
		{"unknown", true},
		{"devel+abc123def456", true},
		{"v1.0.0", false},
		{"1.2.3-beta", false},
	}
	for _, tc := range cases {
		if got := IsDevelopmentVersion(tc.v); got != tc.want {
			t.Errorf("IsDevelopmentVersion(%q) = %v", tc.v, got)
		}
	}
}

func TestIsNewer(t *testing.T) {
	cases := []struct {
		candidate, current string
		want               bool
	}{
		{"v1.2.4", "v1.2.3", true},
		{"v1.3.0", "v1.2.9", true},
		{"v2.0.0", "v1.99.99", true},
		{"v1.2.3", "v1.2.3", false},
		{"v1.2.2", "v1.2.3", false},
		{"1.2.4", "v1.2.3", true},
		{"nonsense", "v1.2.3", false},
		{"v1.2.4", "devel+abc", true},
	}
	for _, tc := range cases {
		if got := isNewer(tc.candidate, tc.current); got != tc.want {
			t.Errorf("isNewer(%q, %q) = %v", tc.candidate, tc.current, got)
		}
	}
}

func TestUpdateCommand(t *testing.T) {
	if got := UpdateCommand("v1.2.3"); got == "" {
		t.Error("valid version rejected")
	}
	for _, bad := range []string{"v1.2.3--beta", "v1.2.3-", "$(rm -rf /)", "v1.2"} {
		if got := UpdateCommand(bad); got != "" {
			t.Errorf("UpdateCommand(%q) = %q, want empty", bad, got)
		}
	}
}
