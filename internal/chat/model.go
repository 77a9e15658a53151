package chat

import (
	"encoding/json"
	"strconv"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
)

// ---------------------------------------------
// API Models
// ---------------------------------------------

// ConversationDetail is a conversation together with its full message log.
type ConversationDetail struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// ---------------------------------------------
// Internal Hub Models
// ---------------------------------------------

func ConversationRoom(id int64) string { return "conversation:" + strconv.FormatInt(id, 10) }

func UserRoom(id int64) string { return "user:" + strconv.FormatInt(id, 10) }

// envelope is one outbound frame routed by the hub. Room "" means every
// connection. It travels through Redis as JSON; client is local-only and
// targets a single connection.
type envelope struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
	client  *Client
}

type roomOp struct {
	client *Client
	room   string
}
