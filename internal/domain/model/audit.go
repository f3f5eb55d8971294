package model

import "time"

// AuditAction identifies the operator action recorded in an audit event.
type AuditAction string

const (
	AuditCredentialAdded    AuditAction = "credential_added"
	AuditCredentialDeleted  AuditAction = "credential_deleted"
	AuditCredentialDisabled AuditAction = "credential_disabled"
	AuditCredentialEnabled  AuditAction = "credential_enabled"
	AuditCredentialVerified AuditAction = "credential_verified"
	AuditImportFinished     AuditAction = "import_finished"
	AuditModeChanged        AuditAction = "mode_changed"
	AuditSettingsChanged    AuditAction = "settings_changed"
)

// AuditEvent is one entry in the operator action trail. Subject identifies
// the affected resource (credential ID, job ID, or mode name); Detail carries
// free-form context such as batch counts or the failure message.
type AuditEvent struct {
	ID        int64
	Action    AuditAction
	Subject   string
	Success   bool
	Detail    string
	CreatedAt time.Time
}
