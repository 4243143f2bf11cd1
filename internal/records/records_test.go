package records

import (
	"strings"
	"testing"
)

func TestFormatTextContainsFieldsVerbatim(t *testing.T) {
	meta := Metadata{
		Name:    "Ada Lovelace",
		Phone:   "+1 (555) 010-2030",
		Address: "12 St. James's Square, London",
		Notes:   "Call back after 5pm; prefers email",
	}
	transcript := "Hi, it's Ada. The engine schematics are ready."

	got := FormatText(transcript, meta)
	want := "Name: Ada Lovelace\n" +
		"Phone: +1 (555) 010-2030\n" +
		"Address: 12 St. James's Square, London\n" +
		"Notes: Call back after 5pm; prefers email\n" +
		"---\n" +
		"Transcription:\n" +
		"Hi, it's Ada. The engine schematics are ready.\n"
	if got != want {
		t.Errorf("FormatText mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestFormatTextEmptyMetadata(t *testing.T) {
	got := FormatText("hello", Metadata{})
	if !strings.HasPrefix(got, "Name: \nPhone: \nAddress: \nNotes: \n---\n") {
		t.Errorf("unexpected header: %q", got)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct{ name, want string }{
		{"Bob", "transcription_Bob.txt"},
		{"  ", "transcription_entry.txt"},
		{"", "transcription_entry.txt"},
	}
	for _, tt := range tests {
		if got := Filename(tt.name); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFormatAll(t *testing.T) {
	recs := []*Record{
		{Seq: 1, Transcript: "first", Metadata: Metadata{Name: "Kim"}},
		{Seq: 2, Transcript: "second"},
	}
	got := FormatAll(recs)

	first := strings.Index(got, "Entry 1: Kim\n")
	second := strings.Index(got, "Entry 2: No Name\n")
	if first < 0 || second < 0 || second < first {
		t.Fatalf("entries missing or out of order: %q", got)
	}
	if !strings.Contains(got, "Transcription:\nfirst\n") || !strings.Contains(got, "Transcription:\nsecond\n") {
		t.Errorf("transcripts missing: %q", got)
	}
	if FormatAll(nil) != "" {
		t.Error("empty history should export nothing")
	}
}
