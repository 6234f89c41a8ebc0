package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MikhailOznobikhin/moznods/internal/domain"
)

// MessageService persists chat messages and returns the canonical
// stored record, or a validation error describing field-level problems.
type MessageService interface {
	SendMessage(ctx context.Context, roomID, userID int64, payload domain.ChatPayload) (json.RawMessage, error)
}

// ValidationError carries field-level detail from the message service.
// It is delivered verbatim to the sender as an error frame.
type ValidationError struct {
	Detail map[string][]string `json:"detail"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("message validation failed: %v", e.Detail)
}

// MessageClient wraps the message service HTTP client.
type MessageClient struct {
	baseURL    string
	httpClient *http.Client
}

type sendMessageRequest struct {
	RoomID        int64   `json:"room_id"`
	UserID        int64   `json:"user_id"`
	Content       string  `json:"content"`
	AttachmentIDs []int64 `json:"attachment_ids,omitempty"`
}

// NewMessageClient creates a new message service client.
func NewMessageClient(baseURL string) *MessageClient {
	return &MessageClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendMessage persists a chat message and returns the canonical record.
func (c *MessageClient) SendMessage(ctx context.Context, roomID, userID int64, payload domain.ChatPayload) (json.RawMessage, error) {
	body, err := json.Marshal(sendMessageRequest{
		RoomID:        roomID,
		UserID:        userID,
		Content:       payload.Content,
		AttachmentIDs: payload.AttachmentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		var valErr ValidationError
		if err := json.NewDecoder(resp.Body).Decode(&valErr); err != nil {
			return nil, fmt.Errorf("failed to decode validation error: %w", err)
		}
		return nil, &valErr
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("message service returned status: %d", resp.StatusCode)
	}

	var record json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return record, nil
}
