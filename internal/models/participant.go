package models

import "time"

type Participant struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
	Active   bool      `json:"active"`
	IsHost   bool      `json:"isHost"`
}
