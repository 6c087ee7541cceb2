package main

import "testing"

func TestFormatMicros(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{10_000, "0.01"},
		{1_234_567_890, "1,234.56"},
		{-95_500_000, "-95.50"},
		{1_000_000_000_000, "1,000,000.00"},
	}
	for _, tc := range tests {
		if got := formatMicros(tc.in); got != tc.want {
			t.Fatalf("formatMicros(%d) got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestComma(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{7, "7"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{-1500, "-1,500"},
	}
	for _, tc := range tests {
		if got := comma(tc.in); got != tc.want {
			t.Fatalf("comma(%d) got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Nimbus Labs International", 10); got != "Nimbus ..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("  short ", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
}
