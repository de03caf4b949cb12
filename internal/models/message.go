package models

import "time"

type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type DrawType string

const (
	DrawPen    DrawType = "pen"
	DrawEraser DrawType = "eraser"
	DrawClear  DrawType = "clear"
)

func (t DrawType) Valid() bool {
	switch t {
	case DrawPen, DrawEraser, DrawClear:
		return true
	}
	return false
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type DrawEvent struct {
	Type      DrawType  `json:"type"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Points    []Point   `json:"points"`
	Color     string    `json:"color,omitempty"`
	DrawID    string    `json:"drawId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
