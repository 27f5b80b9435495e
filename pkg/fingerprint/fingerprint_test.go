package fingerprint

import "testing"

func TestOfStringDeterministic(t *testing.T) {
	a := OfString("BAYES_SPAM")
	b := OfString("BAYES_SPAM")
	if a != b {
		t.Fatalf("expected deterministic fingerprint, got %d != %d", a, b)
	}
}

func TestOfStringDistinguishesInputs(t *testing.T) {
	a := OfString("BAYES_SPAM")
	b := OfString("BAYES_HAM")
	if a == b {
		t.Fatalf("expected distinct fingerprints for distinct inputs")
	}
}

func TestOfStringsSeparatorMatters(t *testing.T) {
	a := OfStrings("ab", "c")
	b := OfStrings("a", "bc")
	if a == b {
		t.Fatalf("expected ('ab','c') and ('a','bc') to fingerprint differently")
	}
}
