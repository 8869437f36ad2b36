package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBase = "https://conversations.twilio.com/v1"

// Error code returned when a participant with the same identity already
// exists in the conversation.
const codeParticipantExists = 50433

// RestError is a non-2xx response from the Conversations API.
type RestError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *RestError) Error() string {
	return fmt.Sprintf("twilio: %s (status %d, code %d)", e.Message, e.StatusCode, e.Code)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var re *RestError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// Client talks to the Twilio Conversations REST API for a single
// Conversations service. Safe for concurrent use.
type Client struct {
	accountSID string
	authToken  string
	serviceSID string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Conversations client. apiBase overrides the production
// endpoint, used by tests.
func NewClient(accountSID, authToken, serviceSID, apiBase string, logger *slog.Logger) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		serviceSID: serviceSID,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// ServiceSID returns the Conversations service this client is bound to.
func (c *Client) ServiceSID() string { return c.serviceSID }

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return &RestError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
		}
		return &RestError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) conversationPath(conversationSID string) string {
	return "/Services/" + c.serviceSID + "/Conversations/" + conversationSID
}

// GetConversation fetches a conversation by SID.
func (c *Client) GetConversation(ctx context.Context, conversationSID string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, c.conversationPath(conversationSID), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListParticipants returns all participants of a conversation, following
// pagination.
func (c *Client) ListParticipants(ctx context.Context, conversationSID string) ([]Participant, error) {
	path := c.conversationPath(conversationSID) + "/Participants?PageSize=50"
	var all []Participant
	for path != "" {
		var page participantPage
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Participants...)
		path = page.Meta.NextPageURL
		// next_page_url is absolute; strip the base so do() can re-prefix it.
		path = strings.TrimPrefix(path, c.apiBase)
	}
	return all, nil
}

// SendMessage posts a message to a conversation and returns the created
// message resource.
func (c *Client) SendMessage(ctx context.Context, conversationSID, author, body string) (*Message, error) {
	form := url.Values{}
	form.Set("Author", author)
	form.Set("Body", body)

	var msg Message
	if err := c.do(ctx, http.MethodPost, c.conversationPath(conversationSID)+"/Messages", form, &msg); err != nil {
		return nil, err
	}
	c.logger.Debug("twilio: message sent",
		"conversation_sid", conversationSID,
		"message_sid", msg.SID)
	return &msg, nil
}

// SetTyping toggles the typing indicator for a participant. Failures are
// returned for the caller to log; typing is always best-effort.
func (c *Client) SetTyping(ctx context.Context, conversationSID, participantSID string, typing bool) error {
	form := url.Values{}
	if typing {
		form.Set("Typing", "true")
	} else {
		form.Set("Typing", "false")
	}
	path := c.conversationPath(conversationSID) + "/Participants/" + participantSID
	return c.do(ctx, http.MethodPost, path, form, nil)
}

// AddParticipant joins an identity to a conversation. An "already exists"
// rejection is not an error.
func (c *Client) AddParticipant(ctx context.Context, conversationSID, identity string) (*Participant, error) {
	form := url.Values{}
	form.Set("Identity", identity)

	var p Participant
	err := c.do(ctx, http.MethodPost, c.conversationPath(conversationSID)+"/Participants", form, &p)
	if err != nil {
		var re *RestError
		if errors.As(err, &re) && re.Code == codeParticipantExists {
			c.logger.Debug("twilio: participant already joined",
				"conversation_sid", conversationSID, "identity", identity)
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// UpdateAttributes replaces a conversation's attributes JSON blob.
func (c *Client) UpdateAttributes(ctx context.Context, conversationSID string, attributes map[string]any) error {
	data, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	form := url.Values{}
	form.Set("Attributes", string(data))
	return c.do(ctx, http.MethodPost, c.conversationPath(conversationSID), form, nil)
}
