package goch

import (
	"drivelog/mq/mq"
)

const defaultBufferSize = 64

// GoChanJournalMessageQueueWrapper keeps every queue in process memory.
type GoChanJournalMessageQueueWrapper struct {
	IntervalMQArray     [mq.ActionCnt]*channelQueue[mq.IntervalMessage]
	NotificationMQArray [mq.ActionCnt]*channelQueue[mq.NotificationMessage]
}

func NewGoChanJournalMessageQueueWrapper() *GoChanJournalMessageQueueWrapper {
	wrapper := GoChanJournalMessageQueueWrapper{}
	// intervals are only ever created, notifications only ever sent
	wrapper.IntervalMQArray[mq.ActionCreate] = newChannelQueue[mq.IntervalMessage](mq.ActionCreate, defaultBufferSize)
	wrapper.NotificationMQArray[mq.ActionCreate] = newChannelQueue[mq.NotificationMessage](mq.ActionCreate, defaultBufferSize)
	return &wrapper
}

func (wrapper *GoChanJournalMessageQueueWrapper) GetIntervalMessageQueue(action mq.Action) mq.IntervalMessageQueue {
	if action < 0 || action >= mq.ActionCnt || wrapper.IntervalMQArray[action] == nil {
		return nil
	}
	return wrapper.IntervalMQArray[action]
}

func (wrapper *GoChanJournalMessageQueueWrapper) GetNotificationMessageQueue(action mq.Action) mq.NotificationMessageQueue {
	if action < 0 || action >= mq.ActionCnt || wrapper.NotificationMQArray[action] == nil {
		return nil
	}
	return wrapper.NotificationMQArray[action]
}

// Close stops every queue and closes all subscriber channels.
func (wrapper *GoChanJournalMessageQueueWrapper) Close() {
	for _, q := range wrapper.IntervalMQArray {
		if q != nil {
			q.Stop()
		}
	}
	for _, q := range wrapper.NotificationMQArray {
		if q != nil {
			q.Stop()
		}
	}
}
