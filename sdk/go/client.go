package buildledgersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal buildledger HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Participant struct {
	Identity     string `json:"identity"`
	Role         string `json:"role"`
	Registered   bool   `json:"registered"`
	RegisteredBy string `json:"registered_by,omitempty"`
	RegisteredAt string `json:"registered_at,omitempty"`
}

// Milestone is a milestone snapshot. Exists is false for ids never submitted.
type Milestone struct {
	ID          int64    `json:"id"`
	Exists      bool     `json:"exists"`
	Status      string   `json:"status"`
	Description string   `json:"description,omitempty"`
	Hashes      []string `json:"hashes"`
	SubmitterID string   `json:"submitter_id,omitempty"`
	VerifierID  *string  `json:"verifier_id,omitempty"`
	ApproverID  *string  `json:"approver_id,omitempty"`
	SubmittedAt *string  `json:"submitted_at,omitempty"`
	VerifiedAt  *string  `json:"verified_at,omitempty"`
	ApprovedAt  *string  `json:"approved_at,omitempty"`
	Submissions int      `json:"submissions"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

type Delivery struct {
	ID          int64  `json:"id"`
	Exists      bool   `json:"exists"`
	MilestoneID int64  `json:"milestone_id"`
	Hash        string `json:"hash,omitempty"`
	Description string `json:"description,omitempty"`
	SupplierID  string `json:"supplier_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Event is one audit log entry.
type Event struct {
	Seq         int64          `json:"seq"`
	TS          string         `json:"ts"`
	Kind        string         `json:"kind"`
	ActorID     string         `json:"actor_id"`
	Role        string         `json:"role"`
	MilestoneID *int64         `json:"milestone_id,omitempty"`
	DeliveryID  *int64         `json:"delivery_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type VerifyReport struct {
	OK        bool   `json:"ok"`
	Entries   int64  `json:"entries"`
	Head      string `json:"head"`
	BrokenSeq *int64 `json:"broken_seq,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// EventQuery filters Events. Zero fields match everything.
type EventQuery struct {
	Kind        string
	ActorID     string
	MilestoneID *int64
	DeliveryID  *int64
	After       string
	Limit       int
}

// APIError wraps non-2xx responses. Code is the error envelope code, e.g.
// invalid_transition or forbidden.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) RegisterParticipant(ctx context.Context, identity, role string) (Participant, error) {
	var resp Participant
	err := c.do(ctx, http.MethodPost, "participants", map[string]any{"identity": identity, "role": role}, &resp)
	return resp, err
}

func (c *Client) Participant(ctx context.Context, identity string) (Participant, error) {
	var resp Participant
	err := c.do(ctx, http.MethodGet, "participants/"+url.PathEscape(identity), nil, &resp)
	return resp, err
}

// SubmitMilestone submits or resubmits evidence hashes for milestone id.
func (c *Client) SubmitMilestone(ctx context.Context, id int64, description string, hashes []string) (Milestone, error) {
	if hashes == nil {
		hashes = []string{}
	}
	var resp Milestone
	err := c.do(ctx, http.MethodPost, milestonePath(id, "submit"), map[string]any{"description": description, "hashes": hashes}, &resp)
	return resp, err
}

func (c *Client) RequestChanges(ctx context.Context, id int64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, milestonePath(id, "request-changes"), nil, &resp)
	return resp, err
}

func (c *Client) VerifyMilestone(ctx context.Context, id int64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, milestonePath(id, "verify"), nil, &resp)
	return resp, err
}

func (c *Client) ApproveMilestone(ctx context.Context, id int64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, milestonePath(id, "approve"), nil, &resp)
	return resp, err
}

func (c *Client) Milestone(ctx context.Context, id int64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodGet, milestonePath(id, ""), nil, &resp)
	return resp, err
}

// DeliveriesForMilestone returns delivery ids in logging order.
func (c *Client) DeliveriesForMilestone(ctx context.Context, id int64) ([]int64, error) {
	var resp struct {
		DeliveryIDs []int64 `json:"delivery_ids"`
	}
	err := c.do(ctx, http.MethodGet, milestonePath(id, "deliveries"), nil, &resp)
	return resp.DeliveryIDs, err
}

func (c *Client) LogDelivery(ctx context.Context, deliveryID, milestoneID int64, hash, description string) (Delivery, error) {
	body := map[string]any{
		"delivery_id":  deliveryID,
		"milestone_id": milestoneID,
		"hash":         hash,
		"description":  description,
	}
	var resp Delivery
	err := c.do(ctx, http.MethodPost, "deliveries", body, &resp)
	return resp, err
}

func (c *Client) Delivery(ctx context.Context, id int64) (Delivery, error) {
	var resp Delivery
	err := c.do(ctx, http.MethodGet, "deliveries/"+strconv.FormatInt(id, 10), nil, &resp)
	return resp, err
}

// RegisterDocument anchors a document hash and returns the audit entry.
func (c *Client) RegisterDocument(ctx context.Context, hash, docType string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, "documents", map[string]any{"hash": hash, "doc_type": docType}, &resp)
	return resp, err
}

// EventsPage returns one page of the audit log.
func (c *Client) EventsPage(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	params := url.Values{}
	if q.Kind != "" {
		params.Set("kind", q.Kind)
	}
	if q.ActorID != "" {
		params.Set("actor_id", q.ActorID)
	}
	if q.MilestoneID != nil {
		params.Set("milestone_id", strconv.FormatInt(*q.MilestoneID, 10))
	}
	if q.DeliveryID != nil {
		params.Set("delivery_id", strconv.FormatInt(*q.DeliveryID, 10))
	}
	if q.After != "" {
		params.Set("after", q.After)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events follows cursors until the log matching q is exhausted.
func (c *Client) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	var out []Event
	for {
		page, err := c.EventsPage(ctx, q)
		if err != nil {
			return out, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" {
			return out, nil
		}
		q.After = page.NextCursor
	}
}

func (c *Client) VerifyLog(ctx context.Context) (VerifyReport, error) {
	var resp VerifyReport
	err := c.do(ctx, http.MethodGet, "events/verify", nil, &resp)
	return resp, err
}

func milestonePath(id int64, action string) string {
	p := "milestones/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	base := strings.TrimRight(c.BaseURL, "/")
	if basePath == "" {
		return base
	}
	return base + "/" + basePath
}
