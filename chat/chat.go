// Package chat talks to the chatbot sessions of the backend.
package chat

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"catcare.com/client/apiclient"
	"catcare.com/client/logger"
	"github.com/rs/zerolog"
)

type Exchange struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

type Session struct {
	ID                string   `json:"session_id" yaml:"session_id"`
	FirstConversation Exchange `json:"first_conversation" yaml:"first_conversation"`
}

type Conversation struct {
	Question  string    `json:"question" yaml:"question"`
	Answer    string    `json:"answer" yaml:"answer"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

type Reply struct {
	Answer string `json:"answer" yaml:"answer"`
}

type createSessionRequest struct {
	Query       string `json:"query"`
	DiagnosisID string `json:"diagnosis_id,omitempty"`
}

type sendRequest struct {
	Query string `json:"query"`
}

type historyResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type Client struct {
	api        *apiclient.Client
	chatLogger zerolog.Logger
}

func NewClient(api *apiclient.Client) *Client {
	return &Client{api: api, chatLogger: logger.NewLogger("Chat client")}
}

// CreateSession opens a session with its first question. diagnosisID is
// optional and ties the conversation to an eye diagnosis.
func (c *Client) CreateSession(ctx context.Context, query, diagnosisID string) (*Session, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &apiclient.ValidationError{Field: "query", Message: "question is blank"}
	}
	var result Session
	err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/chatbot/sessions",
		Body:   createSessionRequest{Query: query, DiagnosisID: diagnosisID},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, &apiclient.ServerError{StatusCode: http.StatusOK, Message: "chat session has no id"}
	}
	c.chatLogger.Info().Str("session_id", result.ID).Str("diagnosis_id", diagnosisID).Msg("Chat session created")
	return &result, nil
}

func (c *Client) History(ctx context.Context, sessionID string) ([]Conversation, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	var result historyResponse
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: conversationsPath(sessionID)}, &result)
	if err != nil {
		return nil, err
	}
	if result.Conversations == nil {
		return []Conversation{}, nil
	}
	return result.Conversations, nil
}

func (c *Client) Send(ctx context.Context, sessionID, question string) (*Reply, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, &apiclient.ValidationError{Field: "query", Message: "question is blank"}
	}
	var reply Reply
	err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   conversationsPath(sessionID),
		Body:   sendRequest{Query: question},
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func conversationsPath(sessionID string) string {
	return "/chatbot/sessions/" + url.PathEscape(sessionID) + "/conversations"
}

func checkSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &apiclient.ValidationError{Field: "sessionId", Message: "session id is empty"}
	}
	return nil
}
