package task

// Topic 定义
// 原有的 exchange/queue 拓扑映射到 Kafka topic：
// 主交换机 + 路由键 + 持久队列 => 主 topic；死信交换机 + 死信队列 => 死信 topic。
const (
	// TopicTasks 主任务 topic (producer -> worker，retry pump -> worker)
	TopicTasks = "task_queue"

	// TopicDeadLetter 死信 topic，所有永久失败或无法解析的消息最终汇聚于此
	TopicDeadLetter = "dead_letter_queue"

	// ConsumerGroup worker 共享的消费组
	ConsumerGroup = "task-workers"
)

// 消息头定义
const (
	// HeaderContentType 消息体编码类型
	HeaderContentType = "content-type"
	// HeaderMessageID 消息 ID，始终等于 task_id
	HeaderMessageID = "message-id"
	// HeaderDeadLetterReason 进入死信的原因
	HeaderDeadLetterReason = "x-dead-letter-reason"
	// HeaderOriginalTopic 进入死信前所在的 topic
	HeaderOriginalTopic = "x-original-topic"
	// HeaderError 最后一次失败的错误描述
	HeaderError = "x-error"
	// HeaderFailedAt 进入死信的时间
	HeaderFailedAt = "x-failed-at"

	// ContentTypeJSON 信封的编码类型
	ContentTypeJSON = "application/json"
)

// Headers 返回发布一个信封时应携带的传输元数据
func Headers(e *Envelope) map[string][]byte {
	return map[string][]byte{
		HeaderContentType: []byte(ContentTypeJSON),
		HeaderMessageID:   []byte(e.TaskID),
	}
}
