package models

// EventItem is an application-level record nested inside the
// "schedules" sync document.
type EventItem struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Date            string `json:"date,omitempty"`      // "2006-01-02"
	StartTime       string `json:"startTime,omitempty"` // "15:04"
	EndTime         string `json:"endTime,omitempty"`
	Location        string `json:"location,omitempty"`
	HasReminder     bool   `json:"hasReminder"`
	ReminderMinutes int    `json:"reminderMinutes,omitempty"`
	LastModified    int64  `json:"lastModified"` // ms since epoch
}

// EventList is the payload shape of the "schedules" sync document.
type EventList struct {
	Events []EventItem `json:"events"`
}
