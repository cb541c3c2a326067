package mq

import "github.com/google/uuid"

// TopicProvider is implemented by every message; subscribers filter on the topic.
type TopicProvider interface {
	GetTopic() uuid.UUID
}

type JournalMessageQueueWrapper interface {
	GetIntervalMessageQueue(action Action) IntervalMessageQueue
	GetNotificationMessageQueue(action Action) NotificationMessageQueue
}

// MessageQueue carries one message type for one action.
type MessageQueue[M TopicProvider] interface {
	GetAction() Action
	Publish(msg M) error
	Subscribe(topic uuid.UUID) (uuid.UUID, <-chan M, error)
	DeSubscribe(id uuid.UUID) error
}

type IntervalMessageQueue = MessageQueue[IntervalMessage]

type NotificationMessageQueue = MessageQueue[NotificationMessage]

// Mode selects the event bus backend.
type Mode string

const (
	ModeGoChan    Mode = "go_chan"
	ModeRabbitMQ  Mode = "rabbitmq"
	ModeGCPPubSub Mode = "gcp_pub_sub"
)
