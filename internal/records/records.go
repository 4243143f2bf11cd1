// Package records defines saved voicemail transcriptions and their text export.
package records

import (
	"fmt"
	"strings"
	"time"
)

// Metadata is the caller information entered alongside a transcript. Any field may be empty.
type Metadata struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

// Record is one saved transcription. Records are never modified after they are stored.
type Record struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"-"`
	Seq        int       `json:"seq"` // 1-based position in the session history
	Transcript string    `json:"transcript"`
	Metadata   Metadata  `json:"metadata"`
	Audio      []byte    `json:"-"`
	AudioName  string    `json:"audio_name"`
	AudioMIME  string    `json:"audio_mime"`
	AudioSize  int       `json:"audio_size"`
	Model      string    `json:"model,omitempty"`
	Language   string    `json:"language,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Label returns the caller name, or "No Name" when it is empty
func (r *Record) Label() string {
	if name := strings.TrimSpace(r.Metadata.Name); name != "" {
		return name
	}
	return "No Name"
}

// FormatText renders a transcript and its metadata in the export layout
func FormatText(transcript string, meta Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", meta.Name)
	fmt.Fprintf(&b, "Phone: %s\n", meta.Phone)
	fmt.Fprintf(&b, "Address: %s\n", meta.Address)
	fmt.Fprintf(&b, "Notes: %s\n", meta.Notes)
	b.WriteString("---\n")
	b.WriteString("Transcription:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String()
}

// Filename returns the download name for an export of the named caller
func Filename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "transcription_entry.txt"
	}
	return "transcription_" + name + ".txt"
}

// FormatAll renders a whole history, each export headed by its entry number
func FormatAll(recs []*Record) string {
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Entry %d: %s\n", r.Seq, r.Label())
		b.WriteString(FormatText(r.Transcript, r.Metadata))
	}
	return b.String()
}
