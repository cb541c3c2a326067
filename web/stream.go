package web

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"drivelog/errs"
	"drivelog/mq/mq"
)

// stream relays every message of topic to the client as server-sent events
// until the client goes away or the queue closes the subscription.
func stream[M mq.TopicProvider](c *gin.Context, event string, queue mq.MessageQueue[M], topic uuid.UUID) {
	out := make(chan M)
	mq.SubscribeProcessor(topic, c.Request.Context(), queue, func(msg M) (M, bool, error) {
		return msg, false, nil
	}, out)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		msg, ok := <-out
		if !ok {
			return false
		}
		c.SSEvent(event, msg)
		return true
	})
}

func (h *handler) notifications(c *gin.Context) {
	user, err := userParam(c, "user")
	if err != nil {
		abort(c, err)
		return
	}
	if h.s.Events == nil {
		abort(c, errs.Preconditionf("web", "event bus is not configured"))
		return
	}
	stream(c, "notification", h.s.Events.GetNotificationMessageQueue(mq.ActionCreate), mq.RecipientTopic(int64(user)))
}

func (h *handler) workDayEvents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abort(c, errs.UserInputf("web", "invalid work day id %q", c.Param("id")))
		return
	}
	if h.s.Events == nil {
		abort(c, errs.Preconditionf("web", "event bus is not configured"))
		return
	}
	stream(c, "interval", h.s.Events.GetIntervalMessageQueue(mq.ActionCreate), id)
}
