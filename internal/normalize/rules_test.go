package normalize

import (
	"reflect"
	"testing"
	"time"

	"clinicsync/pkg/domain"
)

var phoneFixtures = map[string][]string{
	"+905321234567": {
		"5321234567",
		"0532 123 45 67",
		"(532) 123-4567",
		"532.123.45.67",
		"905321234567",
		"+90 532 123 45 67",
		"+90+905321234567",
		"+90 +90 532 123 4567",
		"0090 532 123 4567",
		"+90 0532 123 45 67",
		" +905321234567 ",
	},
	"+14155552671": {
		"+1 (415) 555-2671",
		"001 415 555 2671",
	},
}

func TestPhoneRoundTrip(t *testing.T) {
	for canonical, variants := range phoneFixtures {
		if got := Phone(canonical); got != canonical {
			t.Fatalf("canonical %s normalized to %s", canonical, got)
		}
		for _, v := range variants {
			if got := Phone(v); got != canonical {
				t.Errorf("Phone(%q) = %q, want %q", v, got, canonical)
			}
		}
	}
}

func TestPhoneUnresolvable(t *testing.T) {
	for _, v := range []string{"", "abc", "12345", "0212", "4321234567"} {
		if got := Phone(v); got != "" {
			t.Errorf("Phone(%q) = %q, want empty", v, got)
		}
	}
}

func TestDate(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	cases := []struct {
		in   string
		want *time.Time
	}{
		{"2024-01-05 14:30:00", ptrTime(time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC))},
		{"2024-01-05", ptrTime(day(2024, 1, 5))},
		{"05.01.2024", ptrTime(day(2024, 1, 5))},
		{"05/01/2024", ptrTime(day(2024, 1, 5))},
		{"01/25/2024", ptrTime(day(2024, 1, 25))},
		{"05012024", ptrTime(day(2024, 1, 5))},
		{"1704412800000", ptrTime(day(2024, 1, 5))},
		{"32.13.2024", nil},
		{"yarın", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := Date(tc.in)
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("Date(%q) = %v, want nil", tc.in, got)
		case tc.want != nil && (got == nil || !got.Equal(*tc.want)):
			t.Errorf("Date(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNationalID(t *testing.T) {
	cases := map[string]string{
		"12345678901":   "12345678901",
		"12345678901.0": "12345678901",
		" 12345678901 ": "12345678901",
		"1234567890":    "",
		"1234567890a":   "",
		"1.23456789e10": "",
	}
	for in, want := range cases {
		if got := NationalID(in); got != want {
			t.Errorf("NationalID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12,5", 12.5, true},
		{"12.5", 12.5, true},
		{"1.250,75", 1250.75, true},
		{"300", 300, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := Decimal(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Decimal(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestGenderAndList(t *testing.T) {
	cases := map[string]domain.Gender{
		"Erkek": domain.GenderMale, "E": domain.GenderMale, "male": domain.GenderMale,
		"KADIN": domain.GenderFemale, "Kız": domain.GenderFemale, "F": domain.GenderFemale,
		"": domain.GenderUnknown, "?": domain.GenderUnknown,
	}
	for in, want := range cases {
		if got := Gender(in); got != want {
			t.Errorf("Gender(%q) = %s, want %s", in, got, want)
		}
	}
	if got := List(" J06.9, ,Z00.1 ,"); !reflect.DeepEqual(got, []string{"J06.9", "Z00.1"}) {
		t.Fatalf("List = %v", got)
	}
	if got := List(""); got != nil {
		t.Fatalf("List(empty) = %v", got)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
