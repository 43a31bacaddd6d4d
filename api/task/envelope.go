package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope 是一个任务在系统中的唯一载体。
// 除 RetryCount 以外的字段在创建后不再改变，RetryCount 只由重试调度器通过 NextAttempt 推进。
//
// 解码得到的 Payload 中数字保持为 json.Number，重新编码时原样输出。
type Envelope struct {
	TaskID     string         `json:"task_id"`
	TaskType   string         `json:"task_type"`
	Payload    map[string]any `json:"payload"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
	MaxRetries *int           `json:"max_retries,omitempty"`

	// createdAtText 是解码时 created_at 的原文，createdAtParsed 是当时由它得到的时间。
	// CreatedAt 未被改动时按原文编码。
	createdAtText   string
	createdAtParsed time.Time
}

// envelopeJSON 是编码时的输出结构，created_at 以字符串形式给出
type envelopeJSON struct {
	TaskID     string         `json:"task_id"`
	TaskType   string         `json:"task_type"`
	Payload    map[string]any `json:"payload"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  string         `json:"created_at"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

// wireEnvelope 是解码时使用的宽松结构，用于区分"缺失"与"零值"
type wireEnvelope struct {
	TaskID     string         `json:"task_id"`
	TaskType   string         `json:"task_type"`
	Payload    map[string]any `json:"payload"`
	RetryCount *int           `json:"retry_count"`
	CreatedAt  string         `json:"created_at"`
	MaxRetries *int           `json:"max_retries"`
}

// 不带时区的 ISO-8601 时间格式，按 UTC 解释
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// New 创建一个全新的任务信封，task_id 为随机 UUID，retry_count 为 0
func New(taskType string, payload map[string]any) *Envelope {
	return NewWithID(uuid.NewString(), taskType, payload)
}

// NewWithID 使用调用方提供的 task_id 创建信封
func NewWithID(taskID, taskType string, payload map[string]any) *Envelope {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Envelope{
		TaskID:    taskID,
		TaskType:  taskType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Decode 将消息体解析为信封，并校验必填字段。
// 任何失败都以 *DeserializationError 返回，其中保留原始消息体。
func Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, &DeserializationError{Raw: data, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DeserializationError{Raw: data, Err: errors.New("unexpected data after envelope")}
	}

	env, err := w.envelope()
	if err != nil {
		return nil, &DeserializationError{Raw: data, Err: err}
	}
	return env, nil
}

// envelope 校验并转换。task_id 是幂等键，缺失时无法补全，因此必填。
// created_at 缺失时取当前 UTC 时间；无法解析时保留原文，CreatedAt 为零值。
func (w *wireEnvelope) envelope() (*Envelope, error) {
	switch {
	case strings.TrimSpace(w.TaskID) == "":
		return nil, fmt.Errorf("%w: task_id", ErrMissingField)
	case strings.TrimSpace(w.TaskType) == "":
		return nil, fmt.Errorf("%w: task_type", ErrMissingField)
	}

	env := &Envelope{
		TaskID:   w.TaskID,
		TaskType: w.TaskType,
		Payload:  w.Payload,
	}
	if w.CreatedAt == "" {
		env.CreatedAt = time.Now().UTC()
	} else {
		env.createdAtText = w.CreatedAt
		if t, err := parseTime(w.CreatedAt); err == nil {
			env.CreatedAt = t
			env.createdAtParsed = t
		}
	}
	if env.Payload == nil {
		env.Payload = make(map[string]any)
	}
	if w.RetryCount != nil {
		if *w.RetryCount < 0 {
			return nil, fmt.Errorf("%w: retry_count must be >= 0", ErrInvalidField)
		}
		env.RetryCount = *w.RetryCount
	}
	if w.MaxRetries != nil {
		if *w.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidField)
		}
		v := *w.MaxRetries
		env.MaxRetries = &v
	}
	return env, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	var lastErr error
	for _, layout := range zonelessLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Encode 将信封序列化为 JSON 消息体
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// MarshalJSON 输出线上格式，created_at 尽量保持解码时的原文
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		TaskID:     e.TaskID,
		TaskType:   e.TaskType,
		Payload:    e.Payload,
		RetryCount: e.RetryCount,
		CreatedAt:  e.CreatedAtText(),
		MaxRetries: e.MaxRetries,
	})
}

// CreatedAtText 返回 created_at 的线上文本
func (e *Envelope) CreatedAtText() string {
	if e.createdAtText != "" && e.CreatedAt.Equal(e.createdAtParsed) {
		return e.createdAtText
	}
	return e.CreatedAt.UTC().Format(time.RFC3339Nano)
}

// EffectiveMaxRetries 返回该任务的重试预算：优先使用信封自带的 max_retries，否则使用进程默认值
func (e *Envelope) EffectiveMaxRetries(defaultMax int) int {
	if e.MaxRetries != nil {
		return *e.MaxRetries
	}
	return defaultMax
}

// NextAttempt 返回 retry_count 加一后的副本，task_id 与其余字段保持不变
func (e *Envelope) NextAttempt() *Envelope {
	next := *e
	next.Payload = maps.Clone(e.Payload)
	if next.Payload == nil {
		next.Payload = make(map[string]any)
	}
	if e.MaxRetries != nil {
		v := *e.MaxRetries
		next.MaxRetries = &v
	}
	next.RetryCount = e.RetryCount + 1
	return &next
}

// IntPtr 返回 int 指针，便于构造 MaxRetries
func IntPtr(v int) *int {
	return &v
}
