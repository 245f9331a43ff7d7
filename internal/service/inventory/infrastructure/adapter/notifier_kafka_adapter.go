// internal/service/inventory/infrastructure/adapter/notifier_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/mq"
)

// RestockTopic 到货事件的 topic，下游推送网关按商品订阅
const RestockTopic = "stock-restock-topic"

// RestockEvent 商品从售罄恢复时发出的事件
type RestockEvent struct {
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// RestockKafkaAdapter 是 port.RestockNotifier 的 Kafka 实现
type RestockKafkaAdapter struct {
	writer *kafka.Writer
}

func NewRestockKafkaAdapter(writer *kafka.Writer) *RestockKafkaAdapter {
	return &RestockKafkaAdapter{writer: writer}
}

// NotifyRestock 按商品 ID 作为 Key 发送，保证同一商品的事件有序
func (a *RestockKafkaAdapter) NotifyRestock(ctx context.Context, productID string, quantity int64) error {
	payload, err := json.Marshal(RestockEvent{
		ProductID: productID,
		Quantity:  quantity,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal restock event: %w", err)
	}
	if err := mq.ProduceMessage(ctx, a.writer, []byte(productID), payload); err != nil {
		return fmt.Errorf("produce restock event for %s: %w", productID, err)
	}
	return nil
}
