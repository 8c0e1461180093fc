package models

import (
	"time"

	"github.com/lib/pq"
)

// Document is one row of the schemaless document store. Data holds the
// full JSON payload; Owners is denormalized from the payload's author and
// user fields so owner-scoped queries avoid a JSON scan.
type Document struct {
	Collection string         `json:"collection" gorm:"type:text;primaryKey"`
	DocID      string         `json:"docId" gorm:"type:text;primaryKey"`
	Data       string         `json:"data" gorm:"type:jsonb;not null"`
	Owners     pq.StringArray `json:"owners" gorm:"type:text[]"`
	CDate      time.Time      `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate      time.Time      `json:"mdate" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}
