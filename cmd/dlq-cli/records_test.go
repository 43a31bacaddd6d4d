package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadLetter(t *testing.T, env *task.Envelope, reason string) *kafka.Message {
	t.Helper()
	body, err := env.Encode()
	require.NoError(t, err)
	headers := task.Headers(env)
	headers[task.HeaderDeadLetterReason] = []byte(reason)
	headers[task.HeaderError] = []byte("intentional failure")
	headers[task.HeaderOriginalTopic] = []byte(task.TopicTasks)
	return &kafka.Message{
		Topic:   task.TopicDeadLetter,
		Key:     []byte(env.TaskID),
		Value:   body,
		Headers: headers,
		Offset:  7,
	}
}

func TestParseRecord(t *testing.T) {
	env := task.NewWithID("t-1", "fail_task", nil)
	env.RetryCount = 4
	r := ParseRecord(deadLetter(t, env, "max_retries_exceeded"))

	assert.True(t, r.Decoded)
	assert.Equal(t, "t-1", r.TaskID)
	assert.Equal(t, "fail_task", r.TaskType)
	assert.Equal(t, 4, r.RetryCount)
	assert.Equal(t, "max_retries_exceeded", r.Reason)
	assert.Equal(t, task.TopicTasks, r.Source)
	assert.Equal(t, int64(7), r.Offset)
}

func TestParseRecordRaw(t *testing.T) {
	msg := &kafka.Message{
		Value:   []byte("not json"),
		Headers: map[string][]byte{task.HeaderDeadLetterReason: []byte("deserialization_error")},
	}
	r := ParseRecord(msg)
	assert.False(t, r.Decoded)
	assert.Empty(t, r.TaskID)
	assert.Equal(t, "deserialization_error", r.Reason)

	var buf bytes.Buffer
	PrintRecords(&buf, []Record{r})
	assert.Contains(t, buf.String(), "<raw>")
	assert.Contains(t, buf.String(), "共 1 条死信消息")
}

func TestMatchesTask(t *testing.T) {
	msg := deadLetter(t, task.NewWithID("t-2", "send_email", nil), "max_retries_exceeded")
	assert.True(t, MatchesTask(msg, "t-2"))
	assert.False(t, MatchesTask(msg, "t-3"))

	msg.Key = nil
	assert.True(t, MatchesTask(msg, "t-2"))
}

func TestPrepareReplayResetsRetryCount(t *testing.T) {
	env := task.NewWithID("t-3", "fail_task", map[string]any{"n": 1.0})
	env.RetryCount = 4
	env.MaxRetries = task.IntPtr(2)

	out, err := PrepareReplay(deadLetter(t, env, "max_retries_exceeded"), task.TopicTasks)
	require.NoError(t, err)

	assert.Equal(t, task.TopicTasks, out.Topic)
	assert.Equal(t, "t-3", string(out.Key))
	assert.Empty(t, out.Header(task.HeaderDeadLetterReason))
	assert.Equal(t, "t-3", out.Header(task.HeaderMessageID))

	replayed, err := task.Decode(out.Value)
	require.NoError(t, err)
	assert.Equal(t, 0, replayed.RetryCount)
	assert.Equal(t, "t-3", replayed.TaskID)
	assert.Equal(t, 2, *replayed.MaxRetries)
	assert.Equal(t, json.Number("1"), replayed.Payload["n"])
}

func TestPrepareReplayKeepsLargeIntegers(t *testing.T) {
	msg := &kafka.Message{
		Key:   []byte("t-4"),
		Value: []byte(`{"task_id":"t-4","task_type":"process_payment","payload":{"order_id":1234567890123456789},"retry_count":4,"created_at":"2026-02-24T12:00:00"}`),
	}
	out, err := PrepareReplay(msg, task.TopicTasks)
	require.NoError(t, err)
	assert.Contains(t, string(out.Value), `"order_id":1234567890123456789`)
	assert.Contains(t, string(out.Value), `"created_at":"2026-02-24T12:00:00"`)
	assert.Contains(t, string(out.Value), `"retry_count":0`)
}

func TestPrepareReplayRejectsRaw(t *testing.T) {
	_, err := PrepareReplay(&kafka.Message{Value: []byte("{")}, task.TopicTasks)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
