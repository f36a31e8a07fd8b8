/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SlotTransition is one observed change of a slot's served record.
type SlotTransition struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Category       string    `gorm:"type:varchar(32);index:idx_transition_lookup,priority:1;not null" json:"category"`
	Date           string    `gorm:"type:varchar(10);index:idx_transition_lookup,priority:2;not null" json:"date"`
	SlotTime       string    `gorm:"type:varchar(5);not null" json:"time"`
	Status         string    `gorm:"type:varchar(16);not null" json:"status"`
	PreviousStatus string    `gorm:"type:varchar(16)" json:"previous_status,omitempty"`
	Available      *int      `json:"available"`
	Total          *int      `json:"total"`
	CycleID        string    `gorm:"type:varchar(36);index" json:"cycle_id"`
	ObservedAt     time.Time `gorm:"index:idx_transition_lookup,priority:3" json:"observed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName pins the table name.
func (SlotTransition) TableName() string {
	return "slot_transitions"
}
