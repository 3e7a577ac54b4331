package schedule

import "testing"

func TestParserStar(t *testing.T) {
	got, err := NewParser(0, 59).Parse("*")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 60 || got[0] != 0 || got[59] != 59 {
		t.Fatalf("expected 0..59, got %v", got)
	}
}

func TestParserStarStep(t *testing.T) {
	got, err := NewParser(0, 59).Parse("*/15")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []int{0, 15, 30, 45}
	if !equalInts(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParserRange(t *testing.T) {
	got, err := NewParser(0, 23).Parse("9-17")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 9 || got[0] != 9 || got[len(got)-1] != 17 {
		t.Fatalf("expected 9..17, got %v", got)
	}
}

func TestParserRangeStep(t *testing.T) {
	got, err := NewParser(0, 59).Parse("0-30/10")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []int{0, 10, 20, 30}
	if !equalInts(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParserCommaList(t *testing.T) {
	got, err := NewParser(0, 59).Parse("5,10,5,1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []int{1, 5, 10}
	if !equalInts(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParserReversedRangeFails(t *testing.T) {
	if _, err := NewParser(0, 59).Parse("5-2"); err == nil {
		t.Fatal("expected an error for a reversed range")
	}
}

func TestParserOutOfBoundsFails(t *testing.T) {
	if _, err := NewParser(0, 59).Parse("60"); err == nil {
		t.Fatal("expected an error for a value above max")
	}
	if _, err := NewParser(1, 31).Parse("0"); err == nil {
		t.Fatal("expected an error for a value below min")
	}
}

func TestParserInvalidSyntaxFails(t *testing.T) {
	if _, err := NewParser(0, 59).Parse("garbage"); err == nil {
		t.Fatal("expected an error for unparsable syntax")
	}
	if _, err := NewParser(0, 59).Parse(""); err == nil {
		t.Fatal("expected an error for an empty field")
	}
}

func TestNewDefaultsEveryFieldToStar(t *testing.T) {
	c, err := New("", "", "", "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(c.minute) != 60 || len(c.hour) != 24 || len(c.dayOfMonth) != 31 || len(c.monthOfYear) != 12 || len(c.dayOfWeek) != 7 {
		t.Fatalf("expected every field fully expanded, got %+v", c)
	}
}

func TestNewRejectsInvalidField(t *testing.T) {
	if _, err := New("90", "*", "*", "*", "*"); err == nil {
		t.Fatal("expected an error for an out-of-range minute")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
