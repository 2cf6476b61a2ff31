package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/pkg/logger"
)

// DefaultAPIBaseURL is the Twilio REST API root used when the config does
// not override it.
const DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

// Call is the subset of a Twilio call resource the relay needs for leg
// resolution.
type Call struct {
	SID           string `json:"sid"`
	ParentCallSID string `json:"parent_call_sid"`
	Status        string `json:"status"`
	Direction     string `json:"direction"`
	To            string `json:"to"`
	From          string `json:"from"`
}

type callListResponse struct {
	Calls []*Call `json:"calls"`
}

// Client talks to the Twilio REST API for call inspection and in-call
// redirects.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a Twilio REST client from the telephony config section.
func NewClient(cfg config.TwilioConfig, log *logger.Logger) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("twilio"),
	}
}

// GetCall fetches a single call resource.
func (c *Client) GetCall(ctx context.Context, callSID string) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	var call Call
	if err := c.getJSON(ctx, endpoint, &call); err != nil {
		return nil, fmt.Errorf("failed to fetch call %s: %w", callSID, err)
	}
	return &call, nil
}

// ChildCalls lists the call legs created by dialing out of the given call.
func (c *Client) ChildCalls(ctx context.Context, parentCallSID string) ([]*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json?ParentCallSid=%s",
		c.baseURL, c.accountSID, url.QueryEscape(parentCallSID))

	var list callListResponse
	if err := c.getJSON(ctx, endpoint, &list); err != nil {
		return nil, fmt.Errorf("failed to list child calls of %s: %w", parentCallSID, err)
	}
	return list.Calls, nil
}

// ResolveRemoteLeg finds the call leg belonging to the remote party of a
// bridged call. For an outgoing call the remote leg is the in-progress
// child; for an incoming call it is the parent.
func (c *Client) ResolveRemoteLeg(ctx context.Context, callSID string) (string, error) {
	children, err := c.ChildCalls(ctx, callSID)
	if err != nil {
		return "", err
	}
	for _, child := range children {
		if child.Status == "in-progress" {
			return child.SID, nil
		}
	}
	if len(children) > 0 {
		return children[0].SID, nil
	}

	call, err := c.GetCall(ctx, callSID)
	if err != nil {
		return "", err
	}
	if call.ParentCallSID != "" {
		return call.ParentCallSID, nil
	}

	return "", fmt.Errorf("no remote leg found for call %s", callSID)
}

// RedirectCall replaces the TwiML executing on a live call leg.
func (c *Client) RedirectCall(ctx context.Context, callSID, twiml string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	form := url.Values{}
	form.Set("Twiml", twiml)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create redirect request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to redirect call %s: %w", callSID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("redirect of call %s returned status %d: %s", callSID, resp.StatusCode, string(body))
	}

	c.logger.Info("Redirected call leg", logger.String("call_sid", callSID))
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
