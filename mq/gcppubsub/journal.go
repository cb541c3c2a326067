package gcppubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"drivelog/mq/mq"
)

const (
	topicIDAttribute = "topicId"

	subscriptionExpiration = 24 * time.Hour
	ackDeadline            = 10 * time.Second
	deliverTimeout         = 2 * time.Second
)

type subscriptionInfo struct {
	gcpSubscription *pubsub.Subscription
	cancel          context.CancelFunc
}

// GenericPubSubService carries one message type over one Pub/Sub topic.
// Subscribers get a filtered subscription of their own, deleted on DeSubscribe.
type GenericPubSubService[M mq.TopicProvider] struct {
	client              *pubsub.Client
	topic               *pubsub.Topic
	activeSubscriptions map[uuid.UUID]*subscriptionInfo
	subscriptionsMutex  sync.Mutex
	ctx                 context.Context
}

// NewGenericPubSubService ensures the topic exists, creating it if necessary.
func NewGenericPubSubService[M mq.TopicProvider](ctx context.Context, client *pubsub.Client, topicID string) (*GenericPubSubService[M], error) {
	if client == nil {
		return nil, fmt.Errorf("GCP Pub/Sub client is nil")
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existence of topic %s: %w", topicID, err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", topicID, err)
		}
		log.Printf("Created Pub/Sub topic: %s", topicID)
	}

	return &GenericPubSubService[M]{
		client:              client,
		topic:               topic,
		activeSubscriptions: make(map[uuid.UUID]*subscriptionInfo),
		ctx:                 ctx,
	}, nil
}

func typeName[M any]() string {
	return reflect.TypeOf(*new(M)).Name()
}

// Publish waits for the server to accept msg. The topic id travels as an attribute for filtering.
func (s *GenericPubSubService[M]) Publish(msg M) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", typeName[M](), err)
	}

	result := s.topic.Publish(s.ctx, &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{topicIDAttribute: msg.GetTopic().String()},
	})
	if _, err := result.Get(s.ctx); err != nil {
		return fmt.Errorf("failed to publish %s to topic %s: %w", typeName[M](), s.topic.ID(), err)
	}
	return nil
}

func (s *GenericPubSubService[M]) Subscribe(topicID uuid.UUID) (uuid.UUID, <-chan M, error) {
	subscriptionID := uuid.New()
	name := typeName[M]()
	gcpSubName := fmt.Sprintf("sub-%s-%s-%s", name, topicID, subscriptionID)

	gcpSub, err := s.client.CreateSubscription(s.ctx, gcpSubName, pubsub.SubscriptionConfig{
		Topic:            s.topic,
		Filter:           fmt.Sprintf("attributes.%s = \"%s\"", topicIDAttribute, topicID),
		ExpirationPolicy: subscriptionExpiration,
		AckDeadline:      ackDeadline,
	})
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to create GCP subscription %s for %s: %w", gcpSubName, name, err)
	}

	msgChan := make(chan M, 5)
	receiveCtx, cancel := context.WithCancel(s.ctx)

	s.subscriptionsMutex.Lock()
	s.activeSubscriptions[subscriptionID] = &subscriptionInfo{gcpSubscription: gcpSub, cancel: cancel}
	s.subscriptionsMutex.Unlock()

	go func() {
		defer func() {
			s.subscriptionsMutex.Lock()
			delete(s.activeSubscriptions, subscriptionID)
			s.subscriptionsMutex.Unlock()

			if err := gcpSub.Delete(context.Background()); err != nil {
				log.Printf("Error deleting GCP subscription %s: %v", gcpSub.ID(), err)
			}
			close(msgChan)
		}()

		err := gcpSub.Receive(receiveCtx, func(ctx context.Context, pubsubMsg *pubsub.Message) {
			pubsubMsg.Ack()

			var msg M
			if err := json.Unmarshal(pubsubMsg.Data, &msg); err != nil {
				log.Printf("Error unmarshaling %s for %s: %v", name, subscriptionID, err)
				return
			}
			select {
			case msgChan <- msg:
			case <-time.After(deliverTimeout):
				log.Printf("warning: timeout sending %s to subscriber %s", name, subscriptionID)
			case <-receiveCtx.Done():
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Error in Receive loop for %s subscription %s: %v", name, subscriptionID, err)
		}
	}()

	return subscriptionID, msgChan, nil
}

// DeSubscribe stops the receiver; the goroutine deletes the GCP subscription and closes the channel.
func (s *GenericPubSubService[M]) DeSubscribe(id uuid.UUID) error {
	s.subscriptionsMutex.Lock()
	info, ok := s.activeSubscriptions[id]
	s.subscriptionsMutex.Unlock()
	if !ok {
		return fmt.Errorf("subscription ID %s not found for %s service", id, typeName[M]())
	}
	info.cancel()
	return nil
}

func (s *GenericPubSubService[M]) Close() {
	s.subscriptionsMutex.Lock()
	defer s.subscriptionsMutex.Unlock()
	for _, info := range s.activeSubscriptions {
		info.cancel()
	}
}

// pubsubQueue binds a service to the action it carries.
type pubsubQueue[M mq.TopicProvider] struct {
	*GenericPubSubService[M]
	action mq.Action
}

func newPubSubQueue[M mq.TopicProvider](ctx context.Context, client *pubsub.Client, kind string, action mq.Action) (*pubsubQueue[M], error) {
	topicID := fmt.Sprintf("journal-%s-%d", kind, action)
	gs, err := NewGenericPubSubService[M](ctx, client, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to create generic service for %s: %w", kind, err)
	}
	return &pubsubQueue[M]{GenericPubSubService: gs, action: action}, nil
}

func (q *pubsubQueue[M]) GetAction() mq.Action { return q.action }

// --------- journal message queue wrapper implementation ---------

type GCPJournalMessageQueueWrapper struct {
	client              *pubsub.Client
	IntervalMQArray     [mq.ActionCnt]*pubsubQueue[mq.IntervalMessage]
	NotificationMQArray [mq.ActionCnt]*pubsubQueue[mq.NotificationMessage]
}

func (wrapper *GCPJournalMessageQueueWrapper) GetIntervalMessageQueue(action mq.Action) mq.IntervalMessageQueue {
	if action < 0 || action >= mq.ActionCnt || wrapper.IntervalMQArray[action] == nil {
		return nil
	}
	return wrapper.IntervalMQArray[action]
}

func (wrapper *GCPJournalMessageQueueWrapper) GetNotificationMessageQueue(action mq.Action) mq.NotificationMessageQueue {
	if action < 0 || action >= mq.ActionCnt || wrapper.NotificationMQArray[action] == nil {
		return nil
	}
	return wrapper.NotificationMQArray[action]
}

// Close cancels every subscription and closes the client.
func (wrapper *GCPJournalMessageQueueWrapper) Close() {
	for _, q := range wrapper.IntervalMQArray {
		if q != nil {
			q.Close()
		}
	}
	for _, q := range wrapper.NotificationMQArray {
		if q != nil {
			q.Close()
		}
	}
	if err := wrapper.client.Close(); err != nil {
		log.Printf("Error closing Pub/Sub client: %v", err)
	}
}

// NewGCPJournalMessageQueueWrapper creates a new MQ wrapper instance using GCP Pub/Sub.
func NewGCPJournalMessageQueueWrapper(ctx context.Context, projectID string) (*GCPJournalMessageQueueWrapper, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Pub/Sub client for project %s: %w", projectID, err)
	}

	wrapper := &GCPJournalMessageQueueWrapper{client: client}
	wrapper.IntervalMQArray[mq.ActionCreate], err = newPubSubQueue[mq.IntervalMessage](ctx, client, "interval", mq.ActionCreate)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	wrapper.NotificationMQArray[mq.ActionCreate], err = newPubSubQueue[mq.NotificationMessage](ctx, client, "notification", mq.ActionCreate)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return wrapper, nil
}
