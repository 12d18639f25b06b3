package httprule

import "testing"

func TestParseAndMatchLiteralAndVariable(t *testing.T) {
	tmpl, err := Parse("/v1/items/{id}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tmpl.Vars) != 1 || tmpl.Vars[0] != "id" {
		t.Fatalf("Vars = %v", tmpl.Vars)
	}

	vars, ok := tmpl.Match("/v1/items/42")
	if !ok || vars["id"] != "42" {
		t.Fatalf("Match = %v, %v", vars, ok)
	}

	if _, ok := tmpl.Match("/v1/items"); ok {
		t.Fatalf("expected no match for short path")
	}
	if _, ok := tmpl.Match("/v1/items/42/extra"); ok {
		t.Fatalf("expected no match for long path")
	}
}

func TestGreedyTerminalMatchesSuffixIncludingSlashes(t *testing.T) {
	tmpl, err := Parse("/v1/files/{path=**}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	vars, ok := tmpl.Match("/v1/files/a/b/c.txt")
	if !ok || vars["path"] != "a/b/c.txt" {
		t.Fatalf("Match = %v, %v", vars, ok)
	}
}

func TestGreedyMustBeTerminal(t *testing.T) {
	if _, err := Parse("/v1/{path=**}/tail"); err == nil {
		t.Fatalf("expected error for non-terminal greedy variable")
	}
}

func TestDuplicateVariableNameRejected(t *testing.T) {
	if _, err := Parse("/v1/{id}/nested/{id}"); err == nil {
		t.Fatalf("expected error for duplicate variable name")
	}
}

func TestKeyIgnoresVariableNames(t *testing.T) {
	a, _ := Parse("/v1/items/{id}")
	b, _ := Parse("/v1/items/{other}")
	if a.Key() != b.Key() {
		t.Fatalf("expected templates differing only in variable name to share a Key: %q vs %q", a.Key(), b.Key())
	}
}
