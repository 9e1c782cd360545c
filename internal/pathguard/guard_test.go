package pathguard

import "testing"

func TestAllowed_EmptyListAdmitsEverything(t *testing.T) {
	if !Allowed("/etc", nil) {
		t.Error("empty allow-list should admit any path")
	}
	if !Allowed("/", []string{}) {
		t.Error("empty allow-list should admit root")
	}
}

func TestAllowed(t *testing.T) {
	roots := []string{"/srv/a", "/home/dev"}

	tests := []struct {
		path string
		want bool
	}{
		{"/srv/a", true},
		{"/srv/a/project", true},
		{"/srv/a/project/deep/nested", true},
		{"/home/dev", true},
		{"/srv/ab", false},
		{"/srv", false},
		{"/etc", false},
		{"/home/devops", false},
		{"/", false},
	}

	for _, tt := range tests {
		if got := Allowed(tt.path, roots); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/tmp", "/tmp", false},
		{"/tmp/", "/tmp", false},
		{"/tmp//sub/./dir", "/tmp/sub/dir", false},
		{"relative/path", "", true},
		{"", "", true},
		{"/tmp/../etc", "", true},
		{"/..", "", true},
	}

	for _, tt := range tests {
		got, err := Canonicalize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Canonicalize(%q): expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Canonicalize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheck(t *testing.T) {
	roots := []string{"/srv/a"}

	if err := Check("/srv/a/x", roots); err != nil {
		t.Errorf("Check inside root: %v", err)
	}
	if err := Check("/etc", roots); err != ErrForbidden {
		t.Errorf("Check outside root: got %v, want ErrForbidden", err)
	}
	if err := Check("nope", roots); err != ErrNotAbsolute {
		t.Errorf("Check relative: got %v, want ErrNotAbsolute", err)
	}
}
