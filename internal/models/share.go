package models

import "time"

type ShareStatus string

const (
	ShareStatusPending  ShareStatus = "pending"
	ShareStatusApproved ShareStatus = "approved"
)

// FileShare exposes a single file to the all-users network view. Created
// pending by a share request; approval moves it to the approved list;
// rejection and removal delete the row outright.
type FileShare struct {
	ID          string      `json:"id" gorm:"type:varchar(36);primaryKey"`
	Username    string      `json:"username" gorm:"type:varchar(32);not null;index"`
	FilePath    string      `json:"filepath" gorm:"type:text;not null"`
	FileName    string      `json:"filename" gorm:"type:varchar(255);not null"`
	FileSize    int64       `json:"fileSize" gorm:"not null;default:0"`
	FileType    string      `json:"fileType" gorm:"type:varchar(20)"`
	Status      ShareStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	RequestedAt time.Time   `json:"requestedAt"`
	ApprovedAt  *time.Time  `json:"approvedAt,omitempty"`

	SizeFormatted string `json:"sizeFormatted,omitempty" gorm:"-"`
}

func (FileShare) TableName() string {
	return "file_shares"
}

// FolderShare exposes a folder and, implicitly, every descendant path
// under it. Descendant visibility is computed per query, never stored.
type FolderShare struct {
	ID          string      `json:"id" gorm:"type:varchar(36);primaryKey"`
	Username    string      `json:"username" gorm:"type:varchar(32);not null;index"`
	FolderPath  string      `json:"folderPath" gorm:"type:text;not null"`
	FolderName  string      `json:"folderName" gorm:"type:varchar(255);not null"`
	Status      ShareStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	RequestedAt time.Time   `json:"requestedAt"`
	ApprovedAt  *time.Time  `json:"approvedAt,omitempty"`
}

func (FolderShare) TableName() string {
	return "folder_shares"
}
