package event

import (
	"errors"
	"testing"
)

func TestFilterKeyIsCanonical(t *testing.T) {
	a := Filter{"propertyId": "42", "kind": "invoice"}
	b := Filter{"kind": "invoice", "propertyId": "42"}
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if got := a.Key(); got != "kind=invoice&propertyId=42" {
		t.Fatalf("key = %q", got)
	}
	if (Filter{}).Key() != "" || Filter(nil).Key() != "" {
		t.Fatalf("empty filter must have empty key")
	}
}

func TestScopedKeysHideToken(t *testing.T) {
	h := SessionHash("secret-token")
	if len(h) != 16 {
		t.Fatalf("hash length = %d", len(h))
	}
	s := NewScope("finance", Filter{"propertyId": "7"})
	lk := LeaseKey(h, s)
	tk := TopicKey(h, s)
	if lk == tk {
		t.Fatalf("lease and topic keys must differ")
	}
	if want := "hostlive/lease/" + h + "/finance/propertyId=7"; lk != want {
		t.Fatalf("lease key = %q, want %q", lk, want)
	}
	if SessionHash("secret-token") != h {
		t.Fatalf("hash must be deterministic")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	f := Filter{"a": "1"}
	c := f.Clone()
	c["a"] = "2"
	if f["a"] != "1" {
		t.Fatalf("clone aliases original")
	}
}

func TestFilterValidate(t *testing.T) {
	if err := (Filter{"propertyId": "42"}).Validate(); err != nil {
		t.Fatalf("valid filter rejected: %v", err)
	}
	if err := Filter(nil).Validate(); err != nil {
		t.Fatalf("nil filter rejected: %v", err)
	}
	if err := (Filter{"cursor": "c-9"}).Validate(); !errors.Is(err, ErrReservedFilterKey) {
		t.Fatalf("cursor key err = %v", err)
	}
	if err := (Filter{"": "x"}).Validate(); err == nil {
		t.Fatalf("empty key accepted")
	}
}
