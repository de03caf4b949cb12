package dto

// IngestRequest - тело POST /event
type IngestRequest struct {
	RoomCode string            `json:"roomCode" binding:"required"`
	Type     string            `json:"type" binding:"required,oneof=chat draw notice"`
	UserName string            `json:"userName"`
	Message  string            `json:"message"`
	Event    *DrawEventPayload `json:"event"`
}

// MessagesResponse - страница истории чата
type MessagesResponse struct {
	Messages interface{} `json:"messages"`
	HasMore  bool        `json:"has_more"`
}
