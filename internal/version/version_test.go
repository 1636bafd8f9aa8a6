package version

import "testing"

func TestParseZeroFillsMissingComponents(t *testing.T) {
	cases := []struct{ raw, other string }{
		{"7", "7.0.0"},
		{"1.2", "1.2.0"},
	}
	for _, c := range cases {
		if !Parse(c.raw).Equal(Parse(c.other)) {
			t.Errorf("Parse(%q) should equal Parse(%q)", c.raw, c.other)
		}
	}
}

func TestCompareOrdersDebianStyleRevisions(t *testing.T) {
	if !Parse("1.2.0").LessThan(Parse("1.2.0")) && Parse("1.2.0-r1").Compare(Parse("1.2.0")) >= 0 {
		t.Fatalf("expected 1.2.0-r1 to order before 1.2.0")
	}
	if Parse("1.2.0-r1").Compare(Parse("1.1.9")) <= 0 {
		t.Fatalf("expected 1.2.0-r1 to order after 1.1.9")
	}
}

func TestCompareFallsBackToLexicalForNonSemverVersions(t *testing.T) {
	a := Parse("r123.abcdef")
	b := Parse("r124.abcdef")
	if !a.LessThan(b) {
		t.Fatalf("expected %q to order before %q lexically", a, b)
	}
	if a.Equal(b) {
		t.Fatal("expected distinct raw strings to compare unequal")
	}
}

func TestNewerReportsUpgradeCandidates(t *testing.T) {
	if !Newer("2.0.0", "1.9.9") {
		t.Fatal("expected 2.0.0 to be newer than 1.9.9")
	}
	if Newer("1.0.0", "1.0.0") {
		t.Fatal("expected equal versions to not be newer")
	}
}

func TestStringReturnsOriginalRawForm(t *testing.T) {
	v := Parse("1.2.0-r1")
	if v.String() != "1.2.0-r1" {
		t.Fatalf("expected raw form preserved, got %q", v.String())
	}
}
