package app

import (
	"testing"
	"time"
)

func TestAllowOrigin(t *testing.T) {
	allow := allowOrigin([]string{"https://portal.example.edu", "*.dorm.example.edu", "localhost:*"})
	cases := []struct {
		origin string
		want   bool
	}{
		{"https://portal.example.edu", true},
		{"http://portal.example.edu", true},
		{"https://admin.dorm.example.edu", true},
		{"https://dorm.example.edu.evil.com", false},
		{"http://localhost:5173", true},
		{"https://example.com", false},
	}
	for _, tc := range cases {
		if got := allow(tc.origin); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.origin, tc.want, got)
		}
	}
}

func TestParseTimezoneLocation(t *testing.T) {
	loc, err := parseTimezoneLocation("+08:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, off := time.Now().In(loc).Zone(); off != 8*3600 {
		t.Fatalf("offset: want=%d got=%d", 8*3600, off)
	}
	if _, err := parseTimezoneLocation("Mars/Olympus"); err == nil {
		t.Fatalf("bogus zone accepted")
	}
}
