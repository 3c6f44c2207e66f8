package models

import "time"

// ItemStatus represents the health of a linked bank connection.
type ItemStatus string

const (
	ItemStatusHealthy        ItemStatus = "healthy"
	ItemStatusSyncing        ItemStatus = "syncing"
	ItemStatusError          ItemStatus = "error"
	ItemStatusReauthRequired ItemStatus = "reauth_required"
)

// ItemCredential holds the access credential for one aggregator item
// (bank connection) together with its health state and sync position.
//
// ItemID is unique: at most one credential row exists per external
// item, and relinking reuses that row rather than inserting a new one.
// Cursor is the opaque resumption token owned by the sync orchestrator;
// it is persisted only after the corresponding page has been durably
// reconciled and reset on relink.
type ItemCredential struct {
	Base
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	AccessToken     string     `gorm:"not null" json:"-"`
	ItemID          string     `gorm:"uniqueIndex;not null" json:"item_id"`
	InstitutionID   string     `json:"institution_id"`
	InstitutionName string     `json:"institution_name"`
	Status          ItemStatus `gorm:"not null;default:'healthy'" json:"status"`
	ErrorCode       *string    `json:"error_code,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	RequiresReauth  bool       `gorm:"default:false" json:"requires_reauth"`
	Cursor          string     `json:"-"`
	InitialSyncDone bool       `gorm:"default:false" json:"initial_sync_done"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`

	// Relationships
	Accounts []Account `gorm:"foreignKey:CredentialID" json:"accounts,omitempty"`
}
