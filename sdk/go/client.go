// Package switchboardsdk is a minimal Go client for the Switchboard HTTP API.
package switchboardsdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Switchboard HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model.
type Job struct {
	ID          string    `json:"id"`
	Synopsis    string    `json:"synopsis"`
	Location    *string   `json:"location,omitempty"`
	CallerName  *string   `json:"caller_name,omitempty"`
	CallerPhone *string   `json:"caller_phone,omitempty"`
	CreatedAt   string    `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
	ClosedAt    *string   `json:"closed_at,omitempty"`
	ClosedBy    *string   `json:"closed_by,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
}

// Comment is a timestamped note on a job.
type Comment struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
	CreatedBy string `json:"created_by"`
}

// Resource represents the API resource model with its assignment state.
type Resource struct {
	ID           string      `json:"id"`
	DisplayName  string      `json:"display_name"`
	Comment      *string     `json:"comment,omitempty"`
	InService    bool        `json:"in_service"`
	CreatedAt    string      `json:"created_at"`
	Assignment   *Assignment `json:"assignment,omitempty"`
	LastLocation *Location   `json:"last_location,omitempty"`
}

// Location is a recorded resource position.
type Location struct {
	ResourceID string  `json:"resource_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	RecordedAt string  `json:"recorded_at"`
}

// Assignment binds a resource to a job.
type Assignment struct {
	ID         string  `json:"id"`
	JobID      string  `json:"job_id"`
	ResourceID string  `json:"resource_id"`
	AssignedAt string  `json:"assigned_at"`
	AssignedBy string  `json:"assigned_by"`
	RemovedAt  *string `json:"removed_at,omitempty"`
	RemovedBy  *string `json:"removed_by,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// StreamEvent is one notification from the live stream.
type StreamEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/users/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// CreateJob creates a job.
func (c *Client) CreateJob(ctx context.Context, synopsis string, comments ...string) (Job, error) {
	body := map[string]any{"synopsis": synopsis}
	if len(comments) > 0 {
		body["comments"] = comments
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs", body, &resp)
	return resp, err
}

// Jobs lists jobs.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var resp []Job
	err := c.do(ctx, http.MethodGet, "v0/jobs", nil, &resp)
	return resp, err
}

// Job fetches one job with its comments.
func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v0/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// AddComment appends a comment to a job.
func (c *Client) AddComment(ctx context.Context, jobID, text string) (Comment, error) {
	body := map[string]string{"comment": text}
	var resp Comment
	err := c.do(ctx, http.MethodPost, "v0/jobs/"+url.PathEscape(jobID)+"/comments", body, &resp)
	return resp, err
}

// CloseJob closes a job, releasing any active assignments.
func (c *Client) CloseJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "v0/jobs/"+url.PathEscape(jobID)+"/close", nil, nil)
}

// CreateResource creates a resource.
func (c *Client) CreateResource(ctx context.Context, displayName string) (Resource, error) {
	body := map[string]string{"display_name": displayName}
	var resp Resource
	err := c.do(ctx, http.MethodPost, "v0/resources", body, &resp)
	return resp, err
}

// Resources lists resources with their assignment state.
func (c *Client) Resources(ctx context.Context) ([]Resource, error) {
	var resp []Resource
	err := c.do(ctx, http.MethodGet, "v0/resources", nil, &resp)
	return resp, err
}

// SetInService sets a resource's service status.
func (c *Client) SetInService(ctx context.Context, resourceID string, inService bool) error {
	body := map[string]bool{"in_service": inService}
	return c.do(ctx, http.MethodPost, "v0/resources/"+url.PathEscape(resourceID)+"/inservice", body, nil)
}

// SetLocation records a resource position.
func (c *Client) SetLocation(ctx context.Context, resourceID string, lat, lon float64) error {
	body := map[string]float64{"lat": lat, "lon": lon}
	return c.do(ctx, http.MethodPost, "v0/resources/"+url.PathEscape(resourceID)+"/location", body, nil)
}

// Assign assigns a resource to a job.
func (c *Client) Assign(ctx context.Context, jobID, resourceID string) (Assignment, error) {
	body := map[string]string{"job_id": jobID, "resource_id": resourceID}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, "v0/assignments", body, &resp)
	return resp, err
}

// Unassign removes an active assignment.
func (c *Client) Unassign(ctx context.Context, assignmentID string) error {
	return c.do(ctx, http.MethodDelete, "v0/assignments/"+url.PathEscape(assignmentID), nil, nil)
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stream opens the live event stream and invokes fn for each notification.
// It returns when ctx is canceled or the server closes the stream; a server
// close usually means the client lagged and should re-read current state
// before reconnecting.
func (c *Client) Stream(ctx context.Context, fn func(StreamEvent)) error {
	if c.BearerToken == "" {
		return fmt.Errorf("stream requires a bearer token; call Login first")
	}
	endpoint := c.base() + "/v0/stream?token=" + url.QueryEscape(c.BearerToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	// The stream is long-lived, so bypass the client timeout.
	httpc := &http.Client{}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return err
		}
		fn(ev)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
