package goch

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivelog/mq/mq"
)

const (
	publishTimeout  = time.Second
	deliveryTimeout = 100 * time.Millisecond
)

type QueueError string

func (e QueueError) Error() string {
	return string(e)
}

const (
	ErrQueueFull    QueueError = "message queue is full"
	ErrQueueStopped QueueError = "message queue is stopped"
)

type subscriber[T any] struct {
	topic uuid.UUID
	ch    chan T
}

// fanOutQueueCore delivers every published message to each subscriber of
// the message's topic. A subscriber that does not keep up loses messages
// after deliveryTimeout; it never blocks the publisher for longer.
type fanOutQueueCore[T mq.TopicProvider] struct {
	publishChan chan T
	subscribers map[uuid.UUID]subscriber[T]
	mu          sync.RWMutex
	quit        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	bufferSize  int
}

func newFanOutQueueCore[T mq.TopicProvider](bufferSize int) *fanOutQueueCore[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	c := &fanOutQueueCore[T]{
		publishChan: make(chan T, bufferSize),
		subscribers: make(map[uuid.UUID]subscriber[T]),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		bufferSize:  bufferSize,
	}
	go c.fanOutRoutine()
	return c
}

func (c *fanOutQueueCore[T]) fanOutRoutine() {
	defer close(c.done)
	for {
		select {
		case msg := <-c.publishChan:
			c.deliver(msg)
		case <-c.quit:
			return
		}
	}
}

func (c *fanOutQueueCore[T]) deliver(msg T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topic := msg.GetTopic()
	for id, sub := range c.subscribers {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.ch <- msg:
		case <-time.After(deliveryTimeout):
			log.Printf("warning: goch: subscriber %s is not receiving, message dropped", id)
		}
	}
}

// Publish hands msg to the fan-out routine, waiting at most publishTimeout.
func (c *fanOutQueueCore[T]) Publish(msg T) error {
	select {
	case <-c.quit:
		return ErrQueueStopped
	default:
	}
	select {
	case c.publishChan <- msg:
		return nil
	case <-c.quit:
		return ErrQueueStopped
	case <-time.After(publishTimeout):
		return ErrQueueFull
	}
}

func (c *fanOutQueueCore[T]) Subscribe(topic uuid.UUID) (uuid.UUID, <-chan T, error) {
	select {
	case <-c.quit:
		return uuid.Nil, nil, ErrQueueStopped
	default:
	}
	id := uuid.New()
	ch := make(chan T, c.bufferSize)
	c.mu.Lock()
	c.subscribers[id] = subscriber[T]{topic: topic, ch: ch}
	c.mu.Unlock()
	return id, ch, nil
}

func (c *fanOutQueueCore[T]) DeSubscribe(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscribers[id]
	if !ok {
		return fmt.Errorf("goch: subscriber with ID '%s' not found", id)
	}
	delete(c.subscribers, id)
	close(sub.ch)
	return nil
}

// Stop ends the fan-out routine and closes every subscriber channel.
func (c *fanOutQueueCore[T]) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.mu.Lock()
		defer c.mu.Unlock()
		for id, sub := range c.subscribers {
			close(sub.ch)
			delete(c.subscribers, id)
		}
	})
}

// channelQueue is a MessageQueue backed by a fanOutQueueCore.
type channelQueue[T mq.TopicProvider] struct {
	action mq.Action
	core   *fanOutQueueCore[T]
}

func newChannelQueue[T mq.TopicProvider](action mq.Action, bufferSize int) *channelQueue[T] {
	return &channelQueue[T]{action: action, core: newFanOutQueueCore[T](bufferSize)}
}

func (q *channelQueue[T]) GetAction() mq.Action {
	return q.action
}

func (q *channelQueue[T]) Publish(msg T) error {
	return q.core.Publish(msg)
}

func (q *channelQueue[T]) Subscribe(topic uuid.UUID) (uuid.UUID, <-chan T, error) {
	return q.core.Subscribe(topic)
}

func (q *channelQueue[T]) DeSubscribe(id uuid.UUID) error {
	return q.core.DeSubscribe(id)
}

func (q *channelQueue[T]) Stop() {
	q.core.Stop()
}
