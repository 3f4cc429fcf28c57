package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const MaxCommentLength = 2000

type Comment struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	InstanceID string `json:"instance_id"`
	PostedBy   string `json:"posted_by"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type NewComment struct {
	ID         string
	TenantID   string
	InstanceID string
	PostedBy   string
	Body       string
	Now        time.Time
}

func CreateComment(in NewComment) (Comment, error) {
	if strings.TrimSpace(in.Body) == "" {
		return Comment{}, invalid("body", "comment body must not be empty")
	}
	if n := utf8.RuneCountInString(in.Body); n > MaxCommentLength {
		return Comment{}, invalid("body", "comment body is %d characters, limit is %d", n, MaxCommentLength)
	}
	now := Timestamp(in.Now)
	return Comment{
		ID:         in.ID,
		TenantID:   in.TenantID,
		InstanceID: in.InstanceID,
		PostedBy:   in.PostedBy,
		Body:       in.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
