package kafka

import (
	"context"
	"errors"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec 描述一个需要存在的 topic
type TopicSpec struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	// 分区数量，-1 表示使用 broker 默认值
	Partitions int32 `json:"partitions" yaml:"partitions" mapstructure:"partitions"`
	// 副本因子，-1 表示使用 broker 默认值
	ReplicationFactor int16 `json:"replicationFactor" yaml:"replicationFactor" mapstructure:"replicationFactor"`
	// Topic 级别配置
	Configs map[string]*string `json:"configs,omitempty" yaml:"configs,omitempty" mapstructure:"configs"`
}

// TopicManager 负责以幂等方式声明 topic
type TopicManager struct {
	client     *kgo.Client
	kadmClient *kadm.Client
	logger     clog.Logger
}

// NewTopicManager 创建一个新的 Topic 管理器，它持有独立的客户端
func NewTopicManager(config *Config, opts ...Option) (*TopicManager, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	o := applyOptions("kafka-admin", opts)

	kgoOpts := []kgo.Opt{kgo.SeedBrokers(config.Brokers...)}
	if config.ClientID != "" {
		kgoOpts = append(kgoOpts, kgo.ClientID(config.ClientID+"-admin"))
	}
	client, err := kgo.NewClient(kgoOpts...)
	if err != nil {
		return nil, ErrConnection("创建 Kafka 管理客户端失败", err)
	}

	return &TopicManager{
		client:     client,
		kadmClient: kadm.NewClient(client),
		logger:     o.logger,
	}, nil
}

// EnsureTopics 确保所有 topic 存在，已存在的 topic 视为成功
func (tm *TopicManager) EnsureTopics(ctx context.Context, specs ...TopicSpec) error {
	for _, spec := range specs {
		if err := tm.ensureTopic(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func (tm *TopicManager) ensureTopic(ctx context.Context, spec TopicSpec) error {
	if spec.Name == "" {
		return ErrInvalidConfig("topic 名称不能为空")
	}

	responses, err := tm.kadmClient.CreateTopics(ctx, spec.Partitions, spec.ReplicationFactor, spec.Configs, spec.Name)
	if err != nil {
		tm.logger.Error("创建 Topic 请求失败", clog.String("topic", spec.Name), clog.Err(err))
		return ErrAdmin("创建 Topic 请求失败", err)
	}

	response, ok := responses[spec.Name]
	if !ok {
		return ErrAdmin("Topic 创建响应不存在: "+spec.Name, nil)
	}
	if response.Err != nil {
		if errors.Is(response.Err, kerr.TopicAlreadyExists) {
			tm.logger.Debug("Topic 已存在，跳过创建", clog.String("topic", spec.Name))
			return nil
		}
		tm.logger.Error("创建 Topic 失败", clog.String("topic", spec.Name), clog.Err(response.Err))
		return ErrAdmin("创建 Topic 失败: "+spec.Name, response.Err)
	}

	tm.logger.Info("Topic 创建成功",
		clog.String("topic", spec.Name),
		clog.Int32("partitions", spec.Partitions),
		clog.Int("replication_factor", int(spec.ReplicationFactor)),
	)
	return nil
}

// Ping 检查与集群的连通性
func (tm *TopicManager) Ping(ctx context.Context) error {
	if err := tm.client.Ping(ctx); err != nil {
		return ErrConnection("无法连接 Kafka 集群", err)
	}
	return nil
}

// Close 关闭管理客户端
func (tm *TopicManager) Close() {
	tm.client.Close()
}
