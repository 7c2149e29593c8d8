package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/client"
	"identity-service/internal/util"
)

// OTPMessage is the event consumed by the out-of-band delivery worker
// (email/SMS), keyed by recipient email.
type OTPMessage struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Notifier delivers issued OTP codes to the out-of-band channel.
type Notifier interface {
	DeliverOTP(ctx context.Context, msg OTPMessage) error
}

// KafkaNotifier publishes OTP delivery events to the notifications topic.
type KafkaNotifier struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaNotifier(producer *client.KafkaProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
	}
}

func (n *KafkaNotifier) DeliverOTP(ctx context.Context, msg OTPMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP message: %w", err)
	}

	headers := map[string]string{"purpose": msg.Purpose}
	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(msg.Email), payload, headers); err != nil {
		return fmt.Errorf("failed to publish OTP message: %w", err)
	}

	util.Debug("OTP delivery event published",
		zap.String("email", msg.Email),
		zap.String("purpose", msg.Purpose))

	return nil
}

// NopNotifier drops delivery events. Used when Kafka is disabled; the code
// is still surfaced in the signup response.
type NopNotifier struct{}

func (NopNotifier) DeliverOTP(ctx context.Context, msg OTPMessage) error {
	return nil
}
