package timeutil

import (
	"testing"
)

func TestParseValid(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"05:30", "05:30"},
		{"00:00", "00:00"},
		{"23:59", "23:59"},
		{"13:00:30", "13:00"},
		{" 07:15 ", "07:15"},
	}
	for _, tc := range cases {
		c, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.in, err)
		}
		if c.String() != tc.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tc.in, c.String(), tc.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "N/A", "5:30", "05:3", "24:00", "12:60", "12:00:60", "12-30", "12:30:15:00", "ab:cd"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestAddMinutes(t *testing.T) {
	cases := []struct {
		in   string
		add  int
		want string
	}{
		{"13:00", 15, "13:15"},
		{"13:00", -30, "12:30"},
		{"23:50", 20, "00:10"},
		{"00:10", -20, "23:50"},
		{"12:00", 0, "12:00"},
	}
	for _, tc := range cases {
		got := MustParse(tc.in).AddMinutes(tc.add)
		if got.String() != tc.want {
			t.Errorf("%s + %dm = %s, want %s", tc.in, tc.add, got, tc.want)
		}
	}
}

func TestAddSeconds(t *testing.T) {
	got := MustParse("06:00").AddSeconds(20*60 + 30)
	if got.StringSeconds() != "06:20:30" {
		t.Errorf("06:00 + 20m30s = %s, want 06:20:30", got.StringSeconds())
	}
}

func TestInWindowSameDay(t *testing.T) {
	start, end := MustParse("13:00"), MustParse("17:00")
	if !MustParse("13:00").InWindow(start, end) {
		t.Error("start should be inside [start, end)")
	}
	if MustParse("17:00").InWindow(start, end) {
		t.Error("end should be outside [start, end)")
	}
	if MustParse("12:59").InWindow(start, end) {
		t.Error("point before start should be outside")
	}
}

func TestInWindowWrapsMidnight(t *testing.T) {
	// Isha interval: 20:00 to tomorrow's Fajr 05:00.
	start, end := MustParse("20:00"), MustParse("05:00")
	for _, p := range []string{"20:00", "23:59", "00:00", "04:59", "22:10"} {
		if !MustParse(p).InWindow(start, end) {
			t.Errorf("%s should be inside wrapped window [20:00, 05:00)", p)
		}
	}
	for _, p := range []string{"05:00", "12:00", "19:59"} {
		if MustParse(p).InWindow(start, end) {
			t.Errorf("%s should be outside wrapped window [20:00, 05:00)", p)
		}
	}
}

func TestMidpoint(t *testing.T) {
	// Zohwa-e-Kubra midpoints: midpoint of Fajr 05:00 and Sunset 18:00 is 11:30;
	// midpoint of Sunrise 06:00 and Sunset 18:00 is 12:00.
	if got := MustParse("05:00").Midpoint(MustParse("18:00")); got.String() != "11:30" {
		t.Errorf("midpoint(05:00, 18:00) = %s, want 11:30", got)
	}
	if got := MustParse("06:00").Midpoint(MustParse("18:00")); got.String() != "12:00" {
		t.Errorf("midpoint(06:00, 18:00) = %s, want 12:00", got)
	}
	// Wrap: midpoint of 23:00 and 01:00 crosses midnight.
	if got := MustParse("23:00").Midpoint(MustParse("01:00")); got.String() != "00:00" {
		t.Errorf("midpoint(23:00, 01:00) = %s, want 00:00", got)
	}
}

func TestAbsDiffSeconds(t *testing.T) {
	if d := MustParse("05:30").AbsDiffSeconds(MustParse("05:31")); d != 60 {
		t.Errorf("diff = %d, want 60", d)
	}
	if d := MustParse("05:31").AbsDiffSeconds(MustParse("05:30")); d != 60 {
		t.Errorf("diff = %d, want 60", d)
	}
}

func TestFormat12h(t *testing.T) {
	cases := map[string]string{
		"00:05": "12:05 AM",
		"12:00": "12:00 PM",
		"13:45": "1:45 PM",
		"05:30": "5:30 AM",
	}
	for in, want := range cases {
		if got := MustParse(in).Format12h(); got != want {
			t.Errorf("Format12h(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatPtr(t *testing.T) {
	if got := FormatPtr(nil); got != "N/A" {
		t.Errorf("FormatPtr(nil) = %q, want N/A", got)
	}
	c := MustParse("09:15")
	if got := FormatPtr(&c); got != "09:15" {
		t.Errorf("FormatPtr = %q, want 09:15", got)
	}
}
