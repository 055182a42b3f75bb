package sessionmon

// NotificationType classifies what the user should be told.
type NotificationType string

const (
	NotificationWarning    NotificationType = "warning"
	NotificationExpired    NotificationType = "expired"
	NotificationRefreshing NotificationType = "refreshing"
)

// Suggested actions attached to notifications.
const (
	ActionRefresh = "refresh"
	ActionLogout  = "logout"
	ActionLogin   = "login"
)

// Message values are i18n keys; the host app owns the actual copy.
const (
	MsgExpiryWarning  = "session.expiry_warning"
	MsgExpired        = "session.expired"
	MsgRefreshing     = "session.refreshing"
	MsgRefreshed      = "session.refreshed"
	MsgRefreshFailed  = "session.refresh_failed"
	MsgNoRefreshToken = "session.no_refresh_token"
)

// Notification is what subscribers receive. TimeRemaining is whole minutes,
// rounded up, and only meaningful for warnings.
type Notification struct {
	Type          NotificationType `json:"type"`
	Message       string           `json:"message"`
	TimeRemaining int              `json:"time_remaining,omitempty"`
	CanRefresh    bool             `json:"can_refresh,omitempty"`
	Action        string           `json:"action,omitempty"`
}

// Reason codes carried on the forced-logout redirect.
const (
	ReasonSessionExpired = "session_expired"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonManualLogout   = "manual_logout"
)
