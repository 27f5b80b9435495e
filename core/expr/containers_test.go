package expr

import "testing"

func TestOptionListDedupPreservesOrder(t *testing.T) {
	l := NewOptionList(0)
	l.Add("a")
	l.Add("b")
	l.Add("a")
	l.Add("c")

	got := l.Items()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestOptionListCap(t *testing.T) {
	l := NewOptionList(2)
	if !l.Add("a") {
		t.Fatal("expected first add to succeed")
	}
	if !l.Add("b") {
		t.Fatal("expected second add to succeed")
	}
	if l.Add("c") {
		t.Fatal("expected third add to be rejected by cap")
	}
	if l.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", l.Dropped())
	}
}

func TestBitset(t *testing.T) {
	b := NewBitset(130)
	b.Set(0)
	b.Set(64)
	b.Set(129)

	if !b.IsSet(0) || !b.IsSet(64) || !b.IsSet(129) {
		t.Fatal("expected set bits to read back as set")
	}
	if b.IsSet(1) {
		t.Fatal("expected unset bit to read back as unset")
	}
	if b.Count() != 3 {
		t.Fatalf("expected count 3, got %d", b.Count())
	}
}
