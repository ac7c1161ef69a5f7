package redis

import (
	"encoding/json"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
)

const eventChannelPrefix = "execution_service:events:"

// EventPublisher fans run events out over redis pub/sub for the monitoring
// front ends. Publishing is asynchronous so the decision loop never blocks
// on redis; the channel drops nothing as long as the consumer goroutine
// keeps up, and Close drains what is queued.
type EventPublisher struct {
	pool    *redis.Pool
	channel string
	queue   chan interfaces.RunEvent
	done    chan struct{}
	log     *zap.Logger
}

func NewEventPublisher(runID string, logger *zap.Logger) *EventPublisher {
	p := &EventPublisher{
		pool:    GetPoolInstance(),
		channel: eventChannelPrefix + runID,
		queue:   make(chan interfaces.RunEvent, 256),
		done:    make(chan struct{}),
		log:     logger.With(zap.String("logger", "redisEvents")),
	}
	go p.loop()
	return p
}

func (p *EventPublisher) Publish(event interfaces.RunEvent) {
	select {
	case p.queue <- event:
	default:
		p.log.Warn("event queue full, dropping event", zap.String("kind", event.Kind))
	}
}

func (p *EventPublisher) Close() {
	close(p.queue)
	<-p.done
}

func (p *EventPublisher) loop() {
	defer close(p.done)
	for event := range p.queue {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		conn := p.pool.Get()
		_, err = conn.Do("PUBLISH", p.channel, payload)
		conn.Close()
		if err != nil {
			p.log.Warn("publish failed", zap.Error(err))
		}
	}
}
