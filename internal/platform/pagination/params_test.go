package pagination

import (
	"errors"
	"testing"
)

func TestClampPageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	tests := []struct {
		raw  string
		want int
	}{
		{raw: "", want: 25},
		{raw: " 30 ", want: 30},
		{raw: "400", want: 40},
		{raw: "-3", want: 25},
		{raw: "0", want: 25},
	}
	for _, tc := range tests {
		got, err := ClampPageSize(tc.raw, opts)
		if err != nil {
			t.Fatalf("ClampPageSize(%q) returned error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ClampPageSize(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}

	if got, _ := ClampPageSize("", Options{}); got != DefaultPageSize {
		t.Fatalf("expected package default %d, got %d", DefaultPageSize, got)
	}
	if _, err := ClampPageSize("abc", opts); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2024-03-01T00:00:00Z", "ord-1"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if len(cursor.StartAfter) != 2 || cursor.StartAfter[1] != "ord-1" {
		t.Fatalf("unexpected cursor %#v", cursor)
	}
	if _, err := DecodeToken("%%%"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken for empty cursor returned error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token got %q", token)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	if _, err := DecodeToken("not-base64"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}
