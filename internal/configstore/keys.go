package configstore

import "strings"

func ColumnsKey(sheet, entityType, user string) string {
	key := "COLUMNS_" + sheet + "_" + entityType
	if user = strings.TrimSpace(user); user != "" {
		key += "_" + user
	}
	return key
}

func EntityTypeKey(sheet string) string {
	return "ENTITY_TYPE_" + sheet
}

func FilterIDKey(sheet string) string {
	return "FILTER_ID_" + sheet
}

func TwoWayEnabledKey(sheet string) string {
	return "TWOWAY_SYNC_ENABLED_" + sheet
}

func TrackingColumnKey(sheet string) string {
	return "TWOWAY_SYNC_TRACKING_COLUMN_" + sheet
}

func PreviousTrackingColumnKey(sheet string) string {
	return "TWOWAY_SYNC_PREVIOUS_COLUMN_" + sheet
}

func ForceEndKey(sheet string) string {
	return "TWOWAY_SYNC_FORCE_END_" + sheet
}

func LastSyncKey(sheet string) string {
	return "LAST_SYNC_" + sheet
}

// FieldDefinitionsKey lives in ScopeScript.
func FieldDefinitionsKey(entityType string) string {
	return "FIELD_DEFINITIONS_" + entityType
}
