package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/tradedesk/services/deals/config"
	"example.com/tradedesk/services/deals/internal/fault"
)

// MessageHandler processes one received queue message
type MessageHandler func(ctx context.Context, message *azservicebus.ReceivedMessage) error

// ServiceBus wraps the Azure Service Bus client for the deal ingest queue
type ServiceBus struct {
	client    *azservicebus.Client
	queueName string
}

// NewServiceBus creates a new Service Bus client
func NewServiceBus(cfg config.AzureConfig) (*ServiceBus, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &ServiceBus{
		client:    client,
		queueName: cfg.QueueName,
	}, nil
}

// SendMessage sends a JSON message to the queue
func (s *ServiceBus) SendMessage(ctx context.Context, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	sender, err := s.client.NewSender(s.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus sender")
	}
	defer sender.Close(ctx)

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "deals",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return sender.SendMessage(ctx, msg, nil)
}

// ProcessMessages receives messages until ctx is cancelled, passing each to
// handler. Contract failures are dead-lettered since redelivery cannot fix
// them; transient failures are abandoned for redelivery.
func (s *ServiceBus) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	receiver, err := s.client.NewReceiverForQueue(s.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer receiver.Close(context.Background())

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive messages")
		}

		for _, message := range messages {
			if err := handler(ctx, message); err != nil {
				if fault.KindOf(err) != "" {
					log.Warn().Err(err).Str("message_id", message.MessageID).Msg("Rejected message, dead-lettering")
					if dlErr := receiver.DeadLetterMessage(ctx, message, nil); dlErr != nil {
						log.Error().Err(dlErr).Msg("Failed to dead-letter message")
					}
					continue
				}

				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to process message, abandoning")
				if abErr := receiver.AbandonMessage(ctx, message, nil); abErr != nil {
					log.Error().Err(abErr).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}

// Close closes the Service Bus client
func (s *ServiceBus) Close() error {
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}
