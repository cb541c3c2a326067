package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"drivelog/config"
	"drivelog/mq/mq"
)

// Sender delivers one text to one chat user.
type Sender interface {
	Send(ctx context.Context, recipient int64, text string) error
}

// Notifier fans a text out to several recipients. Failures are per recipient
// and never abort the rest of the batch.
type Notifier struct {
	sender   Sender
	settings config.Provider
}

func New(sender Sender, settings config.Provider) *Notifier {
	return &Notifier{sender: sender, settings: settings}
}

// Notify returns one entry per recipient, nil meaning delivered.
func (n *Notifier) Notify(ctx context.Context, recipients []int64, text string) map[int64]error {
	results := make(map[int64]error, len(recipients))
	sent := 0
	for _, r := range recipients {
		err := n.sender.Send(ctx, r, text)
		if err != nil {
			log.Printf("warning: notification to %d failed: %v", r, err)
		} else {
			sent++
		}
		results[r] = err
	}
	log.Printf("notify: %d/%d sent", sent, len(recipients))
	return results
}

// NotifyAdmins sends text to every configured admin.
func (n *Notifier) NotifyAdmins(ctx context.Context, text string) map[int64]error {
	return n.Notify(ctx, n.settings.Current().AdminUsers, text)
}

// Creator identifies who triggered an admin notification.
type Creator struct {
	ID       int64
	Username string
}

func (c Creator) String() string {
	if c.Username == "" {
		return fmt.Sprintf("ID: %d", c.ID)
	}
	return fmt.Sprintf("ID: %d (@%s)", c.ID, c.Username)
}

// ManualDestinationMessage asks admins to check a destination typed by hand.
func ManualDestinationMessage(name string, creator Creator, boardURL string) string {
	return fmt.Sprintf("🔔 Новый объект введен вручную\n\nНазвание: %s\nСоздал: %s\nПроверьте в CRM: %s", name, creator, boardURL)
}

// QueueSender hands notifications to the chat transport over the event bus.
type QueueSender struct {
	queue mq.NotificationMessageQueue
	now   func() time.Time
}

func NewQueueSender(wrapper mq.JournalMessageQueueWrapper) (*QueueSender, error) {
	q := wrapper.GetNotificationMessageQueue(mq.ActionCreate)
	if q == nil {
		return nil, fmt.Errorf("notification queue is not available")
	}
	return &QueueSender{queue: q, now: time.Now}, nil
}

func (s *QueueSender) Send(ctx context.Context, recipient int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.queue.Publish(mq.NotificationMessage{
		ID:        uuid.New(),
		Recipient: recipient,
		Text:      text,
		CreatedAt: s.now(),
	})
}

// LogSender only logs, for running without a transport.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, recipient int64, text string) error {
	log.Printf("notify: to %d: %s", recipient, text)
	return nil
}

// Senders delivers through each sender in turn. The error joins every failure.
type Senders []Sender

func (s Senders) Send(ctx context.Context, recipient int64, text string) error {
	var all []error
	for _, sender := range s {
		if err := sender.Send(ctx, recipient, text); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}
