package connstr

import "testing"

func TestBuildParseRoundTripKV(t *testing.T) {
	cases := []Params{
		{"host": "localhost", "port": "5432", "dbname": "postgres", "user": "alice"},
		{"host": "db.example.com", "user": "o'brien", "dbname": "post\\gres"},
		{"host": "127.0.0.1", "user": `back\slash`, "dbname": `quo'te`, "port": "5433"},
	}
	for _, want := range cases {
		built := Build(want)
		got, err := Parse(built)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", built, err)
		}
		for k, v := range want {
			if got[k] != v {
				t.Errorf("built=%q key %q: got %q want %q", built, k, got[k], v)
			}
		}
	}
}

func TestBuildParseRoundTripURI(t *testing.T) {
	want := Params{"host": "localhost", "port": "9876", "dbname": "postgres", "user": "node_1"}
	uri := BuildURI(want)
	got, err := Parse(uri)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", uri, err)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %q: got %q want %q", k, got[k], v)
		}
	}
}

func TestParseKVEscaping(t *testing.T) {
	got, err := parseKV(`user='o\'brien' host='localhost' dbname='a\\b'`)
	if err != nil {
		t.Fatalf("parseKV failed: %v", err)
	}
	if got["user"] != "o'brien" {
		t.Errorf("got user=%q", got["user"])
	}
	if got["dbname"] != `a\b` {
		t.Errorf("got dbname=%q", got["dbname"])
	}
	if got["host"] != "localhost" {
		t.Errorf("got host=%q", got["host"])
	}
}

func TestParseUnterminatedQuote(t *testing.T) {
	if _, err := parseKV(`user='unterminated`); err == nil {
		t.Errorf("expected error for unterminated quote")
	}
}
