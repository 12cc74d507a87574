package store

// Collection names form a fixed enumerated set. Adding a collection or
// an index requires bumping schemaVersion; upgrades only create what is
// missing, existing records are never migrated across shape changes.
const (
	CollectionTasks           = "tasks"
	CollectionSchedules       = "schedules"
	CollectionNotes           = "notes"
	CollectionPendingSync     = "pendingSync"
	CollectionReminders       = "reminders"
	CollectionThemes          = "themes"
	CollectionUserPreferences = "userPreferences"
	CollectionUserProfiles    = "userProfiles"
	CollectionUserData        = "userData"
)

// schemaVersion is the single integer schema version persisted in the
// meta table.
const schemaVersion = 1

// collectionSpec declares a collection and its secondary indexes over
// JSON fields of the stored record.
type collectionSpec struct {
	name    string
	indexes []string
}

var collections = []collectionSpec{
	{CollectionTasks, []string{"dueDate", "completed"}},
	{CollectionSchedules, []string{"date"}},
	{CollectionNotes, nil},
	{CollectionPendingSync, []string{"userId"}},
	{CollectionReminders, []string{"isActive", "triggerTime"}},
	{CollectionThemes, nil},
	{CollectionUserPreferences, nil},
	{CollectionUserProfiles, nil},
	{CollectionUserData, nil},
}

// specFor returns the declared spec for a collection name.
func specFor(name string) (collectionSpec, bool) {
	for _, spec := range collections {
		if spec.name == name {
			return spec, true
		}
	}
	return collectionSpec{}, false
}

// hasIndex reports whether a collection declares an index on field.
func (c collectionSpec) hasIndex(field string) bool {
	for _, idx := range c.indexes {
		if idx == field {
			return true
		}
	}
	return false
}
