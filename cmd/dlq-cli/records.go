package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/kafka"
)

// Record 一条死信消息的摘要
type Record struct {
	Offset     int64
	Partition  int32
	TaskID     string
	TaskType   string
	RetryCount int
	Reason     string
	Error      string
	FailedAt   string
	Source     string
	// Decoded 为 false 表示消息体不是合法信封，只能查看不能重放
	Decoded bool
}

// ParseRecord 从死信消息中提取摘要，消息体无法解析时只保留消息头中的信息
func ParseRecord(msg *kafka.Message) Record {
	r := Record{
		Offset:    msg.Offset,
		Partition: msg.Partition,
		TaskID:    string(msg.Key),
		Reason:    msg.Header(task.HeaderDeadLetterReason),
		Error:     msg.Header(task.HeaderError),
		FailedAt:  msg.Header(task.HeaderFailedAt),
		Source:    msg.Header(task.HeaderOriginalTopic),
	}
	if env, err := task.Decode(msg.Value); err == nil {
		r.TaskID = env.TaskID
		r.TaskType = env.TaskType
		r.RetryCount = env.RetryCount
		r.Decoded = true
	}
	return r
}

// MatchesTask 判断死信消息是否属于指定任务
func MatchesTask(msg *kafka.Message, taskID string) bool {
	if string(msg.Key) == taskID {
		return true
	}
	if msg.Header(task.HeaderMessageID) == taskID {
		return true
	}
	env, err := task.Decode(msg.Value)
	return err == nil && env.TaskID == taskID
}

// PrepareReplay 构造重新投递到主 topic 的消息：task_id 不变，retry_count 归零，不携带死信相关消息头
func PrepareReplay(msg *kafka.Message, topic string) (*kafka.Message, error) {
	env, err := task.Decode(msg.Value)
	if err != nil {
		var derr *task.DeserializationError
		if errors.As(err, &derr) {
			return nil, fmt.Errorf("消息体不是合法的任务信封，无法重放: %w", err)
		}
		return nil, err
	}
	env.RetryCount = 0

	body, err := env.Encode()
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		Topic:   topic,
		Key:     []byte(env.TaskID),
		Value:   body,
		Headers: task.Headers(env),
	}, nil
}

// PrintRecords 以表格形式输出
func PrintRecords(w io.Writer, records []Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tOFFSET\tTASK_ID\tTASK_TYPE\tRETRY\tREASON\tFAILED_AT\tERROR")
	for _, r := range records {
		taskType := r.TaskType
		if !r.Decoded {
			taskType = "<raw>"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Partition, r.Offset, orDash(r.TaskID), taskType, r.RetryCount,
			orDash(r.Reason), orDash(r.FailedAt), orDash(truncate(r.Error, 60)))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n共 %d 条死信消息\n", len(records))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
