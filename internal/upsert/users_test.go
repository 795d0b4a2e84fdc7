package upsert

import "testing"

func TestUsernameFromEmail(t *testing.T) {
	cases := map[string]string{
		"Jane.Doe@example.com": "jane-doe",
		"a_b@example.com":      "a-b",
		"noat":                 "noat",
	}
	for email, want := range cases {
		if got := usernameFromEmail(email); got != want {
			t.Errorf("usernameFromEmail(%q) = %q, want %q", email, got, want)
		}
	}
}

func TestSlugify(t *testing.T) {
	if got := slugify("  Hello, World!  "); got != "hello-world" {
		t.Errorf("slugify produced %q", got)
	}
}
