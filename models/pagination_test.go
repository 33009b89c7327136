package models

import "testing"

func TestCompositeCursorRoundTrip(t *testing.T) {
	cursor := EncodeCompositeCursor("2026-08-11 15:04:05.123456", 42)

	sortValue, id := DecodeCompositeCursor(&cursor)
	if sortValue != "2026-08-11 15:04:05.123456" {
		t.Fatalf("sort value lost in round trip: %q", sortValue)
	}
	if id != 42 {
		t.Fatalf("id lost in round trip: %d", id)
	}
}

func TestDecodeCompositeCursor_Malformed(t *testing.T) {
	cases := []string{
		"",
		"not-base64!!!",
		EncodeCursor("no-separator"),
		EncodeCursor("a|b|c"),
		EncodeCursor("2026-01-01|not-a-number"),
	}
	for _, c := range cases {
		cursor := c
		sortValue, id := DecodeCompositeCursor(&cursor)
		if sortValue != "" || id != 0 {
			t.Fatalf("malformed cursor %q should decode to zero values, got (%q, %d)", c, sortValue, id)
		}
	}

	if sortValue, id := DecodeCompositeCursor(nil); sortValue != "" || id != 0 {
		t.Fatalf("nil cursor should decode to zero values, got (%q, %d)", sortValue, id)
	}
}
