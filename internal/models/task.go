package models

// Task is an application-level record nested inside the "tasks" sync
// document. Tasks are never synchronized individually, only as part of
// their owning document.
type Task struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	DueDate         string `json:"dueDate,omitempty"` // "2006-01-02"
	DueTime         string `json:"dueTime,omitempty"` // "15:04"
	Completed       bool   `json:"completed"`
	Priority        string `json:"priority,omitempty"`
	HasReminder     bool   `json:"hasReminder"`
	ReminderMinutes int    `json:"reminderMinutes,omitempty"` // lead time before due
	LastModified    int64  `json:"lastModified"`              // ms since epoch
}

// TaskList is the payload shape of the "tasks" sync document.
type TaskList struct {
	Tasks []Task `json:"tasks"`
}
