package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type historyResponse struct {
	Logs []HistoryEntry `json:"logs"`
}

// History returns up to limit of the most recent conversation entries,
// oldest first.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	var resp historyResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/history", limitQuery(limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return resp.Logs, nil
}

// StructuredUpdates lists what a compaction added to long-term memory.
type StructuredUpdates struct {
	UserUpdates     []string `json:"user_updates"`
	IdentityUpdates []string `json:"identity_updates"`
	MemoryUpdates   []string `json:"memory_updates"`
}

func (u StructuredUpdates) IsEmpty() bool {
	return len(u.UserUpdates) == 0 && len(u.IdentityUpdates) == 0 && len(u.MemoryUpdates) == 0
}

type CompactionLog struct {
	ID         int64
	Summary    string
	Timestamp  time.Time
	TokenUsage int
	Updates    StructuredUpdates
}

type rawCompactionLog struct {
	ID            int64   `json:"id"`
	Summary       string  `json:"summary"`
	Timestamp     float64 `json:"timestamp"`
	TokenUsage    int     `json:"token_usage"`
	AddedMemories any     `json:"added_memories"`
}

type compactionLogsResponse struct {
	Logs []rawCompactionLog `json:"logs"`
}

// CompactionLogs returns up to limit memory compaction records, newest first.
func (c *Client) CompactionLogs(ctx context.Context, limit int) ([]CompactionLog, error) {
	var resp compactionLogsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/memory/compaction_logs", limitQuery(limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("compaction logs: %w", err)
	}

	logs := make([]CompactionLog, 0, len(resp.Logs))
	for _, raw := range resp.Logs {
		entry := CompactionLog{
			ID:         raw.ID,
			Summary:    raw.Summary,
			TokenUsage: raw.TokenUsage,
			Updates:    parseUpdates(raw.AddedMemories),
		}
		if raw.Timestamp > 0 {
			entry.Timestamp = time.Unix(0, int64(raw.Timestamp*float64(time.Second)))
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// parseUpdates accepts added_memories either as a JSON-encoded string or as
// an object. Unparseable values are treated as no updates.
func parseUpdates(raw any) StructuredUpdates {
	var payload []byte
	switch value := raw.(type) {
	case nil:
		return StructuredUpdates{}
	case string:
		payload = []byte(value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return StructuredUpdates{}
		}
		payload = encoded
	}

	var updates StructuredUpdates
	if err := json.Unmarshal(payload, &updates); err != nil {
		logger.Debug("ignoring unparseable compaction updates", "error", err)
		return StructuredUpdates{}
	}
	return updates
}

type TokenUsage struct {
	PromptTokens    int `json:"prompt_token_count"`
	CandidateTokens int `json:"candidates_token_count"`
	TotalTokens     int `json:"total_token_count"`
}

type CompactionResult struct {
	Message    string            `json:"message"`
	TokenUsage TokenUsage        `json:"token_usage"`
	Updates    StructuredUpdates `json:"updates"`
}

// Compact asks the agent service to fold the short-term conversation log
// into long-term memory.
func (c *Client) Compact(ctx context.Context) (CompactionResult, error) {
	var resp CompactionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/memory/compact", nil, nil, &resp); err != nil {
		return CompactionResult{}, fmt.Errorf("compact memory: %w", err)
	}
	return resp, nil
}

type MemoryStatus struct {
	MessageCount int `json:"message_count"`
	TotalChars   int `json:"total_chars"`
}

func (c *Client) MemoryStatus(ctx context.Context) (MemoryStatus, error) {
	var resp MemoryStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/memory/status", nil, nil, &resp); err != nil {
		return MemoryStatus{}, fmt.Errorf("memory status: %w", err)
	}
	return resp, nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}
