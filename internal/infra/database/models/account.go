package models

import (
	"time"
)

// Account is a credential row. Profile data lives in the users collection
// of the document store; this table only authenticates.
type Account struct {
	UID           string    `json:"uid" gorm:"primaryKey;type:text"`
	Email         string    `json:"email" gorm:"type:text;uniqueIndex"`
	PasswordHash  string    `json:"-" gorm:"type:text;not null"`
	DisplayName   string    `json:"displayName" gorm:"type:text"`
	EmailVerified bool      `json:"emailVerified" gorm:"type:boolean;not null;default:false"`
	CDate         time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
