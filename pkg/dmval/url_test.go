package dmval

import "testing"

func TestParseURLShorthand(t *testing.T) {
	u, err := ParseURL("h1:/pool/a/f")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "h1" || u.Path != "/pool/a/f" {
		t.Errorf("got host=%q path=%q", u.Host, u.Path)
	}
}

func TestParseURLWithQuery(t *testing.T) {
	u, err := ParseURL("dpm://h1:8446/pool/a/f?token=abc&dpmtoken=xyz")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query.GetString("token", "") != "abc" {
		t.Errorf("token = %q", u.Query.GetString("token", ""))
	}
	if u.Query.GetString("dpmtoken", "") != "xyz" {
		t.Errorf("dpmtoken = %q", u.Query.GetString("dpmtoken", ""))
	}
}

func TestURLWithQueryRoundTrip(t *testing.T) {
	u, _ := ParseURL("h1:/pool/a/f")
	stamped := u.WithQuery("token", "T1")
	if stamped.Query.GetString("token", "") != "T1" {
		t.Fatal("expected token to be set")
	}
	if u.Query.Has("token") {
		t.Fatal("original URL must not be mutated")
	}
}

func TestJoin(t *testing.T) {
	got := Join("a", "", "/b/", "c")
	if got != "/a/b/c" {
		t.Errorf("Join = %q, want /a/b/c", got)
	}
}
