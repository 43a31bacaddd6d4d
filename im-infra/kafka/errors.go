package kafka

import (
	"errors"
	"fmt"
)

// KafkaError 表示 Kafka 操作中的错误
type KafkaError struct {
	Code    string
	Message string
	Err     error
}

func (e *KafkaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *KafkaError) Unwrap() error {
	return e.Err
}

// 错误代码常量
const (
	ErrCodeConfig     = "CONFIG_ERROR"
	ErrCodeConnection = "CONNECTION_ERROR"
	ErrCodeProducer   = "PRODUCER_ERROR"
	ErrCodeConsumer   = "CONSUMER_ERROR"
	ErrCodeAdmin      = "ADMIN_ERROR"
)

// ErrClientClosed 客户端已关闭
var ErrClientClosed = errors.New("kafka client closed")

// ErrInvalidConfig 创建配置错误
func ErrInvalidConfig(msg string) error {
	return &KafkaError{Code: ErrCodeConfig, Message: msg}
}

// ErrConnection 创建连接错误
func ErrConnection(msg string, err error) error {
	return &KafkaError{Code: ErrCodeConnection, Message: msg, Err: err}
}

// ErrProducer 创建生产者错误
func ErrProducer(msg string, err error) error {
	return &KafkaError{Code: ErrCodeProducer, Message: msg, Err: err}
}

// ErrConsumer 创建消费者错误
func ErrConsumer(msg string, err error) error {
	return &KafkaError{Code: ErrCodeConsumer, Message: msg, Err: err}
}

// ErrAdmin 创建管理错误
func ErrAdmin(msg string, err error) error {
	return &KafkaError{Code: ErrCodeAdmin, Message: msg, Err: err}
}

func hasCode(err error, code string) bool {
	var ke *KafkaError
	return errors.As(err, &ke) && ke.Code == code
}

// IsConfigError 判断是否为配置错误
func IsConfigError(err error) bool { return hasCode(err, ErrCodeConfig) }

// IsConnectionError 判断是否为连接错误
func IsConnectionError(err error) bool { return hasCode(err, ErrCodeConnection) }

// IsProducerError 判断是否为生产者错误
func IsProducerError(err error) bool { return hasCode(err, ErrCodeProducer) }

// IsConsumerError 判断是否为消费者错误
func IsConsumerError(err error) bool { return hasCode(err, ErrCodeConsumer) }

// IsAdminError 判断是否为管理错误
func IsAdminError(err error) bool { return hasCode(err, ErrCodeAdmin) }
