package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("完整信封", func(t *testing.T) {
		body := []byte(`{"task_id":"t-1","task_type":"send_email","payload":{"recipient":"a@b.c"},"retry_count":2,"created_at":"2024-05-01T10:00:00Z","max_retries":5}`)

		env, err := Decode(body)
		require.NoError(t, err)
		assert.Equal(t, "t-1", env.TaskID)
		assert.Equal(t, "send_email", env.TaskType)
		assert.Equal(t, "a@b.c", env.Payload["recipient"])
		assert.Equal(t, 2, env.RetryCount)
		require.NotNil(t, env.MaxRetries)
		assert.Equal(t, 5, *env.MaxRetries)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), env.CreatedAt)
	})

	t.Run("可选字段缺省", func(t *testing.T) {
		env, err := Decode([]byte(`{"task_id":"t-2","task_type":"x","created_at":"2024-05-01T10:00:00.123456"}`))
		require.NoError(t, err)
		assert.Equal(t, 0, env.RetryCount)
		assert.Nil(t, env.MaxRetries)
		assert.NotNil(t, env.Payload)
		assert.Empty(t, env.Payload)
		assert.Equal(t, 123456000, env.CreatedAt.Nanosecond())
		assert.Equal(t, time.UTC, env.CreatedAt.Location())
	})

	cases := []struct {
		name string
		body string
		want error
	}{
		{"非 JSON", `not json at all`, nil},
		{"缺少 task_id", `{"task_type":"x","created_at":"2024-05-01T10:00:00Z"}`, ErrMissingField},
		{"缺少 task_type", `{"task_id":"a","created_at":"2024-05-01T10:00:00Z"}`, ErrMissingField},
		{"负数 retry_count", `{"task_id":"a","task_type":"x","created_at":"2024-05-01T10:00:00Z","retry_count":-1}`, ErrInvalidField},
		{"负数 max_retries", `{"task_id":"a","task_type":"x","created_at":"2024-05-01T10:00:00Z","max_retries":-2}`, ErrInvalidField},
		{"空 task_type", `{"task_id":"a","task_type":"  "}`, ErrMissingField},
		{"尾随数据", `{"task_id":"a","task_type":"x"} {"task_id":"b"}`, nil},
		{"类型错误", `{"task_id":1,"task_type":"x","created_at":"2024-05-01T10:00:00Z"}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.body))
			require.Error(t, err)

			var de *DeserializationError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tc.body, string(de.Raw))
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestDecodeCreatedAt(t *testing.T) {
	t.Run("缺失时取当前时间", func(t *testing.T) {
		before := time.Now().UTC()
		env, err := Decode([]byte(`{"task_id":"t2","task_type":"send_email"}`))
		require.NoError(t, err)
		assert.False(t, env.CreatedAt.Before(before))
		assert.Equal(t, time.UTC, env.CreatedAt.Location())
	})

	t.Run("无法解析时保留原文", func(t *testing.T) {
		env, err := Decode([]byte(`{"task_id":"t3","task_type":"send_email","created_at":"2026-02-24"}`))
		require.NoError(t, err)
		assert.True(t, env.CreatedAt.IsZero())
		assert.Equal(t, "2026-02-24", env.CreatedAtText())

		body, err := env.NextAttempt().Encode()
		require.NoError(t, err)
		assert.Contains(t, string(body), `"created_at":"2026-02-24"`)
	})
}

func TestRetryKeepsWireFields(t *testing.T) {
	body := []byte(`{"task_id":"t-7","task_type":"process_payment","payload":{"order_id":1234567890123456789,"amount":10.50,"tags":[1,2]},"retry_count":0,"created_at":"2026-02-24T12:00:00"}`)

	env, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1234567890123456789"), env.Payload["order_id"])

	out, err := env.NextAttempt().Encode()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"order_id":1234567890123456789`)
	assert.Contains(t, string(out), `"amount":10.50`)
	assert.Contains(t, string(out), `"created_at":"2026-02-24T12:00:00"`)
	assert.Contains(t, string(out), `"retry_count":1`)

	again, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, env.Payload, again.Payload)
	assert.True(t, env.CreatedAt.Equal(again.CreatedAt))
}

func TestEncodeUsesCreatedAtWhenChanged(t *testing.T) {
	env, err := Decode([]byte(`{"task_id":"t-8","task_type":"x","created_at":"2026-02-24T12:00:00"}`))
	require.NoError(t, err)

	env.CreatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-01T00:00:00Z", env.CreatedAtText())
}

func TestEncodeDecodeKeepsIdentity(t *testing.T) {
	env := New("process_payment", map[string]any{"amount": 10.5})
	env.MaxRetries = IntPtr(1)

	body, err := env.Encode()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Contains(t, raw, "task_id")
	assert.Contains(t, raw, "created_at")
	assert.EqualValues(t, 0, raw["retry_count"])

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, env.TaskID, got.TaskID)
	assert.True(t, env.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, 1, *got.MaxRetries)
}

func TestNextAttempt(t *testing.T) {
	env := NewWithID("fixed", "fail_task", map[string]any{"k": "v"})
	env.MaxRetries = IntPtr(2)

	next := env.NextAttempt()
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, 0, env.RetryCount, "原信封不应被修改")
	assert.Equal(t, env.TaskID, next.TaskID)
	assert.Equal(t, env.CreatedAt, next.CreatedAt)

	// 副本之间互不影响
	next.Payload["k"] = "changed"
	*next.MaxRetries = 9
	assert.Equal(t, "v", env.Payload["k"])
	assert.Equal(t, 2, *env.MaxRetries)

	assert.Equal(t, 2, next.NextAttempt().RetryCount)
}

func TestEffectiveMaxRetries(t *testing.T) {
	env := New("x", nil)
	assert.Equal(t, 3, env.EffectiveMaxRetries(3))

	env.MaxRetries = IntPtr(0)
	assert.Equal(t, 0, env.EffectiveMaxRetries(3))
}

func TestHeaders(t *testing.T) {
	env := NewWithID("abc", "x", nil)
	h := Headers(env)
	assert.Equal(t, "abc", string(h[HeaderMessageID]))
	assert.Equal(t, ContentTypeJSON, string(h[HeaderContentType]))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&HandlerError{TaskID: "a", TaskType: "b", Err: errors.New("boom")}))
	assert.False(t, IsRetryable(&UnknownTaskTypeError{TaskType: "b"}))
	assert.False(t, IsRetryable(&DeserializationError{Err: errors.New("bad")}))
}
