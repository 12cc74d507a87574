package models

// UserProfile is the payload shape of the "userProfiles" sync document.
type UserProfile struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName,omitempty"`
	Email        string `json:"email,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	LastModified int64  `json:"lastModified"` // ms since epoch
}

// Theme is a stored color theme record in the "themes" collection.
type Theme struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Colors       map[string]string `json:"colors,omitempty"`
	LastModified int64             `json:"lastModified"`
}

// UserPreferences is a stored record in the "userPreferences"
// collection: display and notification settings kept per user.
type UserPreferences struct {
	ID                   string `json:"id"` // user id
	ActiveTheme          string `json:"activeTheme,omitempty"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	ReminderLeadMinutes  int    `json:"reminderLeadMinutes,omitempty"`
	LastModified         int64  `json:"lastModified"`
}
