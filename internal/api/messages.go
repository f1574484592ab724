package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultMaxConversations = 200
	maxConversationsLimit   = 500
	defaultThreadLimit      = 200
	maxThreadLimit          = 1000
)

// MessageParticipant identifies one side of an in-game message.
type MessageParticipant struct {
	ID       string
	Username string
	Self     bool
}

// ConversationMessage is one in-game message, normalized so that Direction is
// "outbound" when the authenticated user sent it and "inbound" otherwise.
type ConversationMessage struct {
	ID        string
	CreatedAt string
	Text      string
	Direction string
	Unread    bool
	Sender    MessageParticipant
	Recipient MessageParticipant
}

// Conversation is one peer's message thread. MessagesIndex returns only the
// latest message per conversation; MessagesThread returns the full window.
type Conversation struct {
	PeerID        string
	PeerUsername  string
	PeerAvatarURL string
	PeerHasBadge  bool
	Messages      []ConversationMessage
}

// Raw wire shapes of the messaging endpoints.
type rawMessage struct {
	ID     string `json:"_id"`
	Date   string `json:"date"`
	Type   string `json:"type"`
	Text   string `json:"text"`
	Unread bool   `json:"unread"`
}

type rawIndexItem struct {
	PeerID  string     `json:"_id"`
	Message rawMessage `json:"message"`
}

type rawIndexUser struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
	Badge     any    `json:"badge"`
}

type rawIndexResponse struct {
	Messages []rawIndexItem          `json:"messages"`
	Users    map[string]rawIndexUser `json:"users"`
}

type rawListResponse struct {
	Messages []rawMessage `json:"messages"`
}

// decodePayload re-decodes a generic response body into a typed shape.
func decodePayload(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to re-encode response payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response payload: %w", err)
	}
	return nil
}

// MessagesIndex fetches the latest message of every conversation, newest
// first. maxConversations <= 0 selects the default window.
func (c *Client) MessagesIndex(ctx context.Context, maxConversations int) ([]Conversation, error) {
	limit := clampLimit(maxConversations, defaultMaxConversations, maxConversationsLimit)

	profile, err := c.AuthMe(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	resp, err := c.do(ctx, http.MethodGet, "/api/user/messages/index", query, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("messages index request failed: HTTP %d", resp.Status)
	}
	if msg := payloadError(resp.Data); msg != "" {
		return nil, fmt.Errorf("messages index request failed: %s", msg)
	}
	if !okField(resp.Data) {
		return nil, fmt.Errorf("messages index returned ok!=1")
	}

	var index rawIndexResponse
	if err := decodePayload(resp.Data, &index); err != nil {
		return nil, err
	}

	// One conversation head per peer, keeping the newest message when the
	// index carries several entries for the same peer.
	heads := map[string]Conversation{}
	for _, item := range index.Messages {
		peerID := strings.TrimSpace(item.PeerID)
		if peerID == "" {
			continue
		}
		user, known := index.Users[peerID]
		peerUsername := strings.TrimSpace(user.Username)
		if peerUsername == "" {
			peerUsername = peerID
		}
		conv := Conversation{
			PeerID:        peerID,
			PeerUsername:  peerUsername,
			PeerAvatarURL: c.normalizeAssetURL(user.AvatarURL),
			PeerHasBadge:  known && user.Badge != nil,
		}
		if msg, ok := conversationMessage(item.Message, profile, peerID, peerUsername); ok {
			conv.Messages = []ConversationMessage{msg}
		}
		if current, ok := heads[peerID]; ok && latestAt(current) >= latestAt(conv) {
			continue
		}
		heads[peerID] = conv
	}

	out := make([]Conversation, 0, len(heads))
	for _, conv := range heads {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		left, right := latestAt(out[i]), latestAt(out[j])
		if left != right {
			return left > right
		}
		return out[i].PeerID < out[j].PeerID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MessagesThread fetches one peer's messages in ascending time order,
// truncated to the most recent limit entries. limit <= 0 selects the default
// window.
func (c *Client) MessagesThread(ctx context.Context, peerID string, limit int) ([]ConversationMessage, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, fmt.Errorf("peer id cannot be empty")
	}
	window := clampLimit(limit, defaultThreadLimit, maxThreadLimit)

	profile, err := c.AuthMe(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("respondent", peerID)
	query.Set("count", strconv.Itoa(window))
	query.Set("offset", "0")
	resp, err := c.do(ctx, http.MethodGet, "/api/user/messages/list", query, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("messages list request failed for %s: HTTP %d", peerID, resp.Status)
	}
	if msg := payloadError(resp.Data); msg != "" {
		return nil, fmt.Errorf("messages list request failed for %s: %s", peerID, msg)
	}
	if !okField(resp.Data) {
		return nil, fmt.Errorf("messages list returned ok!=1 for %s", peerID)
	}

	var list rawListResponse
	if err := decodePayload(resp.Data, &list); err != nil {
		return nil, err
	}

	messages := make([]ConversationMessage, 0, len(list.Messages))
	seen := map[string]struct{}{}
	for _, raw := range list.Messages {
		msg, ok := conversationMessage(raw, profile, peerID, peerID)
		if !ok {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt != messages[j].CreatedAt {
			return messages[i].CreatedAt < messages[j].CreatedAt
		}
		return messages[i].ID < messages[j].ID
	})
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}
	return messages, nil
}

// MessageSend delivers one in-game message to a peer.
func (c *Client) MessageSend(ctx context.Context, peerID, text string) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return fmt.Errorf("peer id cannot be empty")
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("message text cannot be empty")
	}

	body := map[string]any{
		"respondent": peerID,
		"text":       trimmed,
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/user/messages/send", nil, body)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("message send failed: HTTP %d", resp.Status)
	}
	if msg := payloadError(resp.Data); msg != "" {
		return fmt.Errorf("message send failed: %s", msg)
	}
	if !okField(resp.Data) {
		return fmt.Errorf("message send returned ok!=1")
	}
	return nil
}

// conversationMessage normalizes one raw message against the authenticated
// user's identity. Messages without an id are dropped.
func conversationMessage(raw rawMessage, self *Profile, peerID, peerUsername string) (ConversationMessage, bool) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return ConversationMessage{}, false
	}
	outbound := strings.EqualFold(strings.TrimSpace(raw.Type), "out")
	direction := "inbound"
	if outbound {
		direction = "outbound"
	}
	selfParticipant := MessageParticipant{ID: self.ID, Username: self.Username, Self: true}
	peerParticipant := MessageParticipant{ID: peerID, Username: peerUsername}
	msg := ConversationMessage{
		ID:        id,
		CreatedAt: strings.TrimSpace(raw.Date),
		Text:      strings.TrimSpace(raw.Text),
		Direction: direction,
		Unread:    raw.Unread,
	}
	if outbound {
		msg.Sender, msg.Recipient = selfParticipant, peerParticipant
	} else {
		msg.Sender, msg.Recipient = peerParticipant, selfParticipant
	}
	return msg, true
}

// normalizeAssetURL resolves a server-relative asset path against the client's
// base address; absolute URLs pass through.
func (c *Client) normalizeAssetURL(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return c.baseURL + "/" + strings.TrimLeft(trimmed, "/")
}

func latestAt(conv Conversation) string {
	if len(conv.Messages) == 0 {
		return ""
	}
	return conv.Messages[0].CreatedAt
}

func clampLimit(requested, fallback, max int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > max {
		return max
	}
	return requested
}
