package ringisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal ringi HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// TenantID and ActorID are sent as legacy identity headers when no
	// bearer token is set. The server must allow them.
	TenantID   string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Approver struct {
	StepID     string `json:"step_id"`
	AssignedTo string `json:"assigned_to"`
}

type StepDefinition struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	DueInHours int    `json:"due_in_hours,omitempty"`
}

// Definition represents the API definition model (partial).
type Definition struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Version int              `json:"version"`
	Status  string           `json:"status"`
	Steps   []StepDefinition `json:"steps"`
}

type Instance struct {
	ID              string         `json:"id"`
	DisplayID       string         `json:"display_id"`
	DisplayNumber   int64          `json:"display_number"`
	DefinitionID    string         `json:"definition_id"`
	Title           string         `json:"title"`
	FormData        map[string]any `json:"form_data,omitempty"`
	Status          string         `json:"status"`
	Version         int            `json:"version"`
	InitiatedBy     string         `json:"initiated_by"`
	InitiatedByName string         `json:"initiated_by_name,omitempty"`
	SubmittedAt     *string        `json:"submitted_at,omitempty"`
	CompletedAt     *string        `json:"completed_at,omitempty"`
}

type Step struct {
	ID             string  `json:"id"`
	DisplayID      string  `json:"display_id"`
	DisplayNumber  int64   `json:"display_number"`
	StepID         string  `json:"step_id"`
	StepName       string  `json:"step_name"`
	Status         string  `json:"status"`
	Version        int     `json:"version"`
	AssignedTo     string  `json:"assigned_to"`
	AssignedToName string  `json:"assigned_to_name,omitempty"`
	Decision       *string `json:"decision,omitempty"`
	Comment        *string `json:"comment,omitempty"`
	DueDate        *string `json:"due_date,omitempty"`
	Overdue        bool    `json:"overdue"`
}

// Workflow is an instance with every step it ever had.
type Workflow struct {
	Instance Instance `json:"instance"`
	Steps    []Step   `json:"steps"`
}

// ActiveStep returns the step currently waiting on a decision.
func (w Workflow) ActiveStep() (Step, bool) {
	for _, s := range w.Steps {
		if s.Status == "active" {
			return s, true
		}
	}
	return Step{}, false
}

type Task struct {
	Instance Instance `json:"instance"`
	Step     Step     `json:"step"`
}

// TaskDetail is one of the caller's steps with the workflow around it.
type TaskDetail struct {
	Step     Step     `json:"step"`
	Instance Instance `json:"instance"`
	Steps    []Step   `json:"steps"`
}

type DashboardStats struct {
	ActiveTasks         int `json:"active_tasks"`
	InProgressInstances int `json:"in_progress_instances"`
	CompletedToday      int `json:"completed_today"`
}

type Comment struct {
	ID        string `json:"id"`
	PostedBy  string `json:"posted_by"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether err is a stale version rejection. Callers should
// reload the workflow and retry.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// CreateDefinition creates a draft definition.
func (c *Client) CreateDefinition(ctx context.Context, name string, steps []StepDefinition) (Definition, error) {
	body := map[string]any{
		"name":  name,
		"steps": steps,
	}
	var resp Definition
	err := c.do(ctx, http.MethodPost, "definitions", body, &resp)
	return resp, err
}

// PublishDefinition makes a draft definition usable for new workflows.
func (c *Client) PublishDefinition(ctx context.Context, id string) (Definition, error) {
	var resp Definition
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("definitions/%s/publish", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Definitions lists published definitions.
func (c *Client) Definitions(ctx context.Context) ([]Definition, error) {
	var resp []Definition
	err := c.do(ctx, http.MethodGet, "definitions", nil, &resp)
	return resp, err
}

// CreateWorkflow starts a draft workflow.
func (c *Client) CreateWorkflow(ctx context.Context, definitionID, title string, formData map[string]any) (Instance, error) {
	body := map[string]any{
		"definition_id": definitionID,
		"title":         title,
		"form_data":     formData,
	}
	var resp Instance
	err := c.do(ctx, http.MethodPost, "workflows", body, &resp)
	return resp, err
}

// Workflows lists workflows the caller started, newest first.
func (c *Client) Workflows(ctx context.Context, limit int, before string) ([]Instance, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	endpoint := "workflows"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Instance
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Workflow fetches a workflow by display id (WF-42).
func (c *Client) Workflow(ctx context.Context, displayID string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, workflowPath(displayID), nil, &resp)
	return resp, err
}

// Submit moves a draft into approval. A zero version skips the check.
func (c *Client) Submit(ctx context.Context, displayID string, approvers []Approver, version int) (Workflow, error) {
	body := map[string]any{"approvers": approvers}
	if version > 0 {
		body["version"] = version
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, workflowPath(displayID)+"/submit", body, &resp)
	return resp, err
}

// Resubmit starts a new approval round. A nil formData keeps the stored form.
func (c *Client) Resubmit(ctx context.Context, displayID string, approvers []Approver, formData map[string]any, version int) (Workflow, error) {
	body := map[string]any{
		"approvers": approvers,
		"version":   version,
	}
	if formData != nil {
		body["form_data"] = formData
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, workflowPath(displayID)+"/resubmit", body, &resp)
	return resp, err
}

// Approve approves a step at the given version.
func (c *Client) Approve(ctx context.Context, workflowID, stepID string, version int, comment *string) (Workflow, error) {
	return c.decide(ctx, workflowID, stepID, "approve", version, comment)
}

// Reject rejects the workflow at a step.
func (c *Client) Reject(ctx context.Context, workflowID, stepID string, version int, comment *string) (Workflow, error) {
	return c.decide(ctx, workflowID, stepID, "reject", version, comment)
}

// RequestChanges sends the workflow back to the applicant.
func (c *Client) RequestChanges(ctx context.Context, workflowID, stepID string, version int, comment *string) (Workflow, error) {
	return c.decide(ctx, workflowID, stepID, "request-changes", version, comment)
}

func (c *Client) decide(ctx context.Context, workflowID, stepID, verb string, version int, comment *string) (Workflow, error) {
	body := map[string]any{"version": version}
	if comment != nil {
		body["comment"] = *comment
	}
	var resp Workflow
	endpoint := fmt.Sprintf("%s/steps/%s/%s", workflowPath(workflowID), url.PathEscape(stepID), verb)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Tasks lists active steps assigned to the caller.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

// Task fetches one of the caller's steps. Steps assigned to someone else
// fail with a 403 APIError.
func (c *Client) Task(ctx context.Context, workflowID, stepID string) (TaskDetail, error) {
	var resp TaskDetail
	endpoint := fmt.Sprintf("tasks/%s/%s", url.PathEscape(workflowID), url.PathEscape(stepID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DashboardStats returns the caller's workload counters.
func (c *Client) DashboardStats(ctx context.Context) (DashboardStats, error) {
	var resp DashboardStats
	err := c.do(ctx, http.MethodGet, "dashboard/stats", nil, &resp)
	return resp, err
}

// PostComment adds a comment to a workflow.
func (c *Client) PostComment(ctx context.Context, displayID, body string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, workflowPath(displayID)+"/comments", map[string]any{"body": body}, &resp)
	return resp, err
}

// Comments lists comments on a workflow, oldest first.
func (c *Client) Comments(ctx context.Context, displayID string) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, workflowPath(displayID)+"/comments", nil, &resp)
	return resp, err
}

func workflowPath(displayID string) string {
	return "workflows/" + url.PathEscape(displayID)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.TenantID != "" && c.ActorID != "":
		req.Header.Set("X-Tenant-Id", c.TenantID)
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
