package msgjson

import "testing"

func TestUserSetAddAndRoundTrip(t *testing.T) {
	var s UserSet
	s, added := s.Add("bob")
	if !added {
		t.Fatal("expected bob to be added")
	}
	s, _ = s.Add("alice")
	if _, added := s.Add("bob"); added {
		t.Fatal("bob added twice")
	}

	v, err := s.Value()
	if err != nil {
		t.Fatal(err)
	}
	if v != `["alice","bob"]` {
		t.Fatalf("unexpected encoding %v", v)
	}

	var back UserSet
	if err := back.Scan([]byte(v.(string))); err != nil {
		t.Fatal(err)
	}
	if !back.Has("alice") || !back.Has("bob") || len(back) != 2 {
		t.Fatalf("unexpected scan result %v", back)
	}
	if err := back.Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
