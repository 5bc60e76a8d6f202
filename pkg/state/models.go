package state

import (
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"gorm.io/datatypes"
)

// OperationType identifies what an operation log entry describes.
type OperationType string

// Operation types written to the log.
const (
	OperationInvite       OperationType = "invite"
	OperationCreateGroup  OperationType = "create_group"
	OperationCreateSource OperationType = "create_source"
	OperationSetup        OperationType = "setup"
	OperationDeleteGroup  OperationType = "delete_group"
	OperationDeleteSource OperationType = "delete_source"
)

// OperationStatus is the outcome of a logged operation.
type OperationStatus string

// Operation statuses.
const (
	StatusSuccess OperationStatus = "success"
	StatusFailed  OperationStatus = "failed"
	StatusSkipped OperationStatus = "skipped"
)

// User is a partner account known to the store.
type User struct {
	ID        string    `gorm:"primaryKey;size:128" json:"id"`
	Email     string    `gorm:"not null" json:"email"`
	IsAdmin   bool      `gorm:"not null" json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Invitation records that a user was invited to an environment.
type Invitation struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	UserID         string             `gorm:"not null;size:128;uniqueIndex:idx_invitations_user_env" json:"user_id"`
	Environment    config.Environment `gorm:"not null;size:16;uniqueIndex:idx_invitations_user_env" json:"environment"`
	Sent           bool               `gorm:"not null" json:"sent"`
	SentAt         time.Time          `json:"sent_at"`
	AlreadyExisted bool               `gorm:"not null" json:"already_existed"`
}

// Group records a partner group created on the platform.
type Group struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	UserID      string             `gorm:"not null;size:128;uniqueIndex:idx_groups_user_env" json:"user_id"`
	Environment config.Environment `gorm:"not null;size:16;uniqueIndex:idx_groups_user_env" json:"environment"`
	APIID       string             `gorm:"column:api_id" json:"api_id"`
	Name        string             `json:"name"`
	Created     bool               `gorm:"not null" json:"created"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Source records a content source created on the platform. GroupID points
// at the Group row the source was created for.
type Source struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	UserID      string             `gorm:"not null;size:128;uniqueIndex:idx_sources_user_env" json:"user_id"`
	Environment config.Environment `gorm:"not null;size:16;uniqueIndex:idx_sources_user_env" json:"environment"`
	GroupID     *uint              `gorm:"index" json:"group_id,omitempty"`
	APIID       string             `gorm:"column:api_id" json:"api_id"`
	Name        string             `json:"name"`
	Created     bool               `gorm:"not null" json:"created"`
	CreatedAt   time.Time          `json:"created_at"`
}

// OperationLog is an append-only audit entry.
type OperationLog struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	OperationType OperationType      `gorm:"not null;size:32;index" json:"operation_type"`
	UserID        string             `gorm:"size:128;index" json:"user_id"`
	Environment   config.Environment `gorm:"not null;size:16;index" json:"environment"`
	Status        OperationStatus    `gorm:"not null;size:16" json:"status"`
	ErrorMessage  *string            `json:"error_message,omitempty"`
	Details       datatypes.JSON     `json:"details,omitempty"`
	RunID         string             `gorm:"size:36;index" json:"run_id,omitempty"`
	CreatedAt     time.Time          `gorm:"index" json:"created_at"`
}

// Status aggregates the three progress records of one user in one
// environment. Missing records read as false or empty.
type Status struct {
	UserID        string `gorm:"column:user_id" json:"user_id"`
	Email         string `gorm:"column:email" json:"email"`
	Invited       bool   `gorm:"column:invited" json:"invited"`
	GroupCreated  bool   `gorm:"column:group_created" json:"group_created"`
	SourceCreated bool   `gorm:"column:source_created" json:"source_created"`
	GroupAPIID    string `gorm:"column:group_api_id" json:"group_api_id,omitempty"`
	SourceAPIID   string `gorm:"column:source_api_id" json:"source_api_id,omitempty"`
}

// Complete reports whether both the group and the source exist.
func (s *Status) Complete() bool {
	return s.GroupCreated && s.SourceCreated
}

// OperationFilter narrows ListOperations. Zero values match everything.
type OperationFilter struct {
	Environment config.Environment
	UserID      string
	RunID       string
	Limit       int
}
