package server

import (
	"errors"

	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/task-worker/internal/retry"
)

// telemetry worker 的业务指标
type telemetry struct {
	messages           *metrics.Counter
	retries            *metrics.Counter
	deadLetters        *metrics.Counter
	deadLetterFailures *metrics.Counter
	handlerDuration    *metrics.Histogram
	queueGauges        []*metrics.Gauge
}

func newTelemetry() (*telemetry, error) {
	var t telemetry
	var errs []error
	var err error

	t.messages, err = metrics.NewCounter("taskflow.messages", "按结果统计的已处理消息数")
	errs = append(errs, err)
	t.retries, err = metrics.NewCounter("taskflow.retries.scheduled", "已写入延迟队列的重试次数")
	errs = append(errs, err)
	t.deadLetters, err = metrics.NewCounter("taskflow.deadletter.routed", "已投递到死信队列的消息数")
	errs = append(errs, err)
	t.deadLetterFailures, err = metrics.NewCounter("taskflow.deadletter.failures", "死信投递失败次数")
	errs = append(errs, err)
	t.handlerDuration, err = metrics.NewHistogram("taskflow.handler.duration", "任务处理器耗时", "s")
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &t, nil
}

// observeRetryQueue 注册延迟队列深度指标
func (t *telemetry) observeRetryQueue(q *retry.Queue) error {
	waiting, err := metrics.NewGauge("taskflow.retry.queue.depth", "延迟队列中等待到期的任务数", q.Len)
	if err != nil {
		return err
	}
	inflight, err := metrics.NewGauge("taskflow.retry.inflight.depth", "已取出但尚未确认投递的任务数", q.InFlightLen)
	if err != nil {
		return errors.Join(err, waiting.Unregister())
	}
	t.queueGauges = []*metrics.Gauge{waiting, inflight}
	return nil
}

// stopObserving 注销依赖 Redis 的指标
func (t *telemetry) stopObserving() error {
	var errs []error
	for _, g := range t.queueGauges {
		errs = append(errs, g.Unregister())
	}
	t.queueGauges = nil
	return errors.Join(errs...)
}
