package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"drivelog/mq/mq"
)

const (
	exchangeName = "journal_events_exchange" // All journal events go through this exchange

	publishTimeout = 5 * time.Second
	deliverTimeout = time.Second
)

var actionNames = [mq.ActionCnt]string{"create", "update", "delete"}

// routingKey is "<kind>.<action>.<topic>"; subscribers bind the full key so
// the broker does the topic filtering.
func routingKey(kind string, action mq.Action, topic uuid.UUID) string {
	return fmt.Sprintf("%s.%s.%s", kind, actionNames[action], topic)
}

type consumer[M mq.TopicProvider] struct {
	tag  string
	out  chan M
	done chan struct{}
}

// rabbitQueue implements mq.MessageQueue for one message kind and action.
type rabbitQueue[M mq.TopicProvider] struct {
	action    mq.Action
	kind      string
	channel   *amqp091.Channel
	mu        sync.Mutex // Protects the consumers map
	consumers map[uuid.UUID]*consumer[M]
}

func newRabbitQueue[M mq.TopicProvider](conn *amqp091.Connection, kind string, action mq.Action) (*rabbitQueue[M], error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchangeName, err)
	}
	return &rabbitQueue[M]{
		action:    action,
		kind:      kind,
		channel:   ch,
		consumers: make(map[uuid.UUID]*consumer[M]),
	}, nil
}

func (q *rabbitQueue[M]) GetAction() mq.Action {
	return q.action
}

func (q *rabbitQueue[M]) Publish(msg M) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	key := routingKey(q.kind, q.action, msg.GetTopic())
	err = q.channel.PublishWithContext(ctx,
		exchangeName, // exchange
		key,          // routing key
		false,        // mandatory
		false,        // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe declares a private queue bound to topic and forwards its deliveries.
func (q *rabbitQueue[M]) Subscribe(topic uuid.UUID) (uuid.UUID, <-chan M, error) {
	queue, err := DeclareQueueAndExchange(q.channel, "", exchangeName, routingKey(q.kind, q.action, topic))
	if err != nil {
		return uuid.Nil, nil, err
	}

	subscriberID := uuid.New()
	tag := fmt.Sprintf("%s-%s", q.kind, subscriberID)
	msgs, err := q.channel.Consume(
		queue.Name, // queue
		tag,        // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	c := &consumer[M]{tag: tag, out: make(chan M), done: make(chan struct{})}
	q.mu.Lock()
	q.consumers[subscriberID] = c
	q.mu.Unlock()

	go func() {
		defer close(c.out)
		for d := range msgs {
			var msg M
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				log.Printf("Failed to unmarshal %s message: %v", q.kind, err)
				continue
			}
			if msg.GetTopic() != topic {
				continue
			}
			select {
			case c.out <- msg:
			case <-c.done:
				return
			case <-time.After(deliverTimeout):
				log.Printf("warning: timeout sending %s message to consumer %s, skipping", q.kind, subscriberID)
			}
		}
	}()

	return subscriberID, c.out, nil
}

// DeSubscribe cancels the consumer; its channel is closed once the delivery loop exits.
func (q *rabbitQueue[M]) DeSubscribe(subscriberID uuid.UUID) error {
	q.mu.Lock()
	c, ok := q.consumers[subscriberID]
	delete(q.consumers, subscriberID)
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("consumer with ID %s not found for %s.%s", subscriberID, q.kind, actionNames[q.action])
	}

	close(c.done)
	if err := q.channel.Cancel(c.tag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer %s: %w", c.tag, err)
	}
	return nil
}

func (q *rabbitQueue[M]) Close() error {
	q.mu.Lock()
	for id, c := range q.consumers {
		close(c.done)
		delete(q.consumers, id)
	}
	q.mu.Unlock()
	return q.channel.Close()
}

// --------- journal message queue wrapper implementation ---------

type RabbitJournalMessageQueueWrapper struct {
	conn                *amqp091.Connection
	IntervalMQArray     [mq.ActionCnt]*rabbitQueue[mq.IntervalMessage]
	NotificationMQArray [mq.ActionCnt]*rabbitQueue[mq.NotificationMessage]
}

func (wrapper *RabbitJournalMessageQueueWrapper) GetIntervalMessageQueue(action mq.Action) mq.IntervalMessageQueue {
	if action < 0 || action >= mq.ActionCnt || wrapper.IntervalMQArray[action] == nil {
		return nil
	}
	return wrapper.IntervalMQArray[action]
}

func (wrapper *RabbitJournalMessageQueueWrapper) GetNotificationMessageQueue(action mq.Action) mq.NotificationMessageQueue {
	if action < 0 || action >= mq.ActionCnt || wrapper.NotificationMQArray[action] == nil {
		return nil
	}
	return wrapper.NotificationMQArray[action]
}

// Close closes every channel. The connection belongs to the caller.
func (wrapper *RabbitJournalMessageQueueWrapper) Close() {
	for _, q := range wrapper.IntervalMQArray {
		if q != nil {
			if err := q.Close(); err != nil {
				log.Printf("Error closing interval channel: %v", err)
			}
		}
	}
	for _, q := range wrapper.NotificationMQArray {
		if q != nil {
			if err := q.Close(); err != nil {
				log.Printf("Error closing notification channel: %v", err)
			}
		}
	}
}

func NewRabbitJournalMessageQueueWrapper(conn *amqp091.Connection) (*RabbitJournalMessageQueueWrapper, error) {
	wrapper := &RabbitJournalMessageQueueWrapper{conn: conn}

	var err error
	wrapper.IntervalMQArray[mq.ActionCreate], err = newRabbitQueue[mq.IntervalMessage](conn, "interval", mq.ActionCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to create interval create mq: %w", err)
	}
	wrapper.NotificationMQArray[mq.ActionCreate], err = newRabbitQueue[mq.NotificationMessage](conn, "notification", mq.ActionCreate)
	if err != nil {
		wrapper.Close()
		return nil, fmt.Errorf("failed to create notification create mq: %w", err)
	}
	return wrapper, nil
}
