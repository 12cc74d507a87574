package models

// Note is an application-level record nested inside the "notes" sync
// document.
type Note struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Content      string   `json:"content,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Pinned       bool     `json:"pinned"`
	LastModified int64    `json:"lastModified"` // ms since epoch
}

// NoteList is the payload shape of the "notes" sync document.
type NoteList struct {
	Notes []Note `json:"notes"`
}
