package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/spf13/cobra"
)

var (
	// 全局配置
	brokers   []string
	dlqTopic  string
	mainTopic string
	idle      time.Duration
	timeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlq-cli",
		Short: "Inspect and replay quarantined tasks",
		Long: `dlq-cli reads the dead-letter topic, prints why each task was quarantined,
and can re-publish a task to the main topic with its retry counter reset.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return clog.Init(clog.Config{Level: "warn", Format: "console", Output: "stderr"})
		},
	}

	rootCmd.PersistentFlags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "kafka brokers")
	rootCmd.PersistentFlags().StringVar(&dlqTopic, "dlq-topic", task.TopicDeadLetter, "dead-letter topic")
	rootCmd.PersistentFlags().StringVar(&mainTopic, "topic", task.TopicTasks, "main task topic")
	rootCmd.PersistentFlags().DurationVar(&idle, "idle", 3*time.Second, "stop reading after no record arrives for this long")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "operation timeout")

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func kafkaConfig() *kafka.Config {
	cfg := kafka.DefaultConfig()
	cfg.Brokers = brokers
	cfg.ClientID = "dlq-cli"
	cfg.ConsumerConfig.AutoOffsetReset = "earliest"
	return cfg
}

// scan 从头读取死信 topic，直到 idle 时间内没有新消息或 visit 返回 false
func scan(ctx context.Context, visit func(*kafka.Message) bool) error {
	consumer, err := kafka.NewConsumer(ctx, kafkaConfig(), "", []string{dlqTopic})
	if err != nil {
		return fmt.Errorf("创建消费者失败: %w", err)
	}
	defer consumer.Close()

	for {
		pollCtx, cancel := context.WithTimeout(ctx, idle)
		msg, err := consumer.Poll(pollCtx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !visit(msg) {
			return nil
		}
	}
}

// listCmd 列出死信消息
func listCmd() *cobra.Command {
	var limit int
	var reason string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantined tasks with their dead-letter reason",
		Long: `List records on the dead-letter topic.

Examples:
  dlq-cli list                                   # List all quarantined tasks
  dlq-cli list --reason max_retries_exceeded     # Only tasks that ran out of retries
  dlq-cli list --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			var records []Record
			err := scan(ctx, func(msg *kafka.Message) bool {
				r := ParseRecord(msg)
				if reason != "" && r.Reason != reason {
					return true
				}
				records = append(records, r)
				return limit <= 0 || len(records) < limit
			})
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Println("死信队列为空")
				return nil
			}
			PrintRecords(os.Stdout, records)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records to print (0 = all)")
	cmd.Flags().StringVar(&reason, "reason", "", "only show records with this dead-letter reason")
	return cmd
}

// replayCmd 将死信中的任务重新投递到主 topic
func replayCmd() *cobra.Command {
	var taskID string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-publish a quarantined task to the main topic",
		Long: `Re-publish a quarantined task with retry_count reset to 0.
The task keeps its task_id, so a task that already succeeded is still skipped by the worker.

Examples:
  dlq-cli replay --task-id 7f1c...            # Replay one task
  dlq-cli replay --task-id 7f1c... --dry-run  # Show what would be sent`,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID = strings.TrimSpace(taskID)
			if taskID == "" {
				return errors.New("--task-id is required")
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			var found *kafka.Message
			err := scan(ctx, func(msg *kafka.Message) bool {
				if MatchesTask(msg, taskID) {
					found = msg
				}
				return true
			})
			if err != nil {
				return err
			}
			if found == nil {
				return fmt.Errorf("任务 %s 不在死信队列中", taskID)
			}

			out, err := PrepareReplay(found, mainTopic)
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Println("🔍 干运行模式：不会实际投递")
				fmt.Printf("topic: %s\nkey:   %s\nbody:  %s\n", out.Topic, out.Key, out.Value)
				return nil
			}

			producer, err := kafka.NewProducer(ctx, kafkaConfig())
			if err != nil {
				return fmt.Errorf("创建生产者失败: %w", err)
			}
			defer producer.Close()

			if err := producer.SendSync(ctx, out); err != nil {
				return fmt.Errorf("重新投递失败: %w", err)
			}
			fmt.Printf("✅ 任务 %s 已重新投递到 %s\n", taskID, out.Topic)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "task_id of the quarantined task")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the message instead of sending it")
	return cmd
}
