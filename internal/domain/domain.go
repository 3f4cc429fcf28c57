package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EntityType names a display number sequence.
type EntityType string

const (
	EntityWorkflowInstance EntityType = "workflow_instance"
	EntityWorkflowStep     EntityType = "workflow_step"
)

// EntityTypes lists every sequence a tenant needs a counter row for.
var EntityTypes = []EntityType{EntityWorkflowInstance, EntityWorkflowStep}

func (t EntityType) Prefix() string {
	switch t {
	case EntityWorkflowInstance:
		return "WF"
	case EntityWorkflowStep:
		return "STEP"
	default:
		return "ID"
	}
}

// DisplayID renders the user facing identifier, e.g. WF-42.
func DisplayID(t EntityType, number int64) string {
	return fmt.Sprintf("%s-%d", t.Prefix(), number)
}

// ParseDisplayID accepts "WF-42", "wf-42" or a bare "42" for t.
func ParseDisplayID(t EntityType, raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	prefix := t.Prefix() + "-"
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		s = s[len(prefix):]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, invalid("display_id", "%q is not a %s display id", raw, t.Prefix())
	}
	return n, nil
}

// Timestamp formats t the way every entity stores time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func strPtr(s string) *string {
	return &s
}
