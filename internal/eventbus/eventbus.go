// Package eventbus provides a typed publish/subscribe channel for pipeline
// progress and completion notifications.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topic enumerates the event channels published by the processing pipeline
// and attachment downloader.
type Topic int

const (
	ProcessingStarted Topic = iota
	ProcessingProgress
	ProcessingCompleted
	AttachmentDownloadProgress
)

func (t Topic) String() string {
	switch t {
	case ProcessingStarted:
		return "processing.started"
	case ProcessingProgress:
		return "processing.progress"
	case ProcessingCompleted:
		return "processing.completed"
	case AttachmentDownloadProgress:
		return "attachment.download.progress"
	default:
		return "unknown"
	}
}

// ProcessingEvent is published on the processing topics.
type ProcessingEvent struct {
	MessageID string
	Stage     string
	Detail    string
	Timestamp int64
}

// DownloadProgressEvent is published on AttachmentDownloadProgress.
type DownloadProgressEvent struct {
	MessageID     string
	PartID        string
	CurrentOffset int64
	TotalSize     int64
}

// Bus wraps an asaskevich/EventBus with topic-typed Publish/Subscribe.
type Bus struct {
	inner *evbus.EventBus
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{inner: evbus.New()}
}

// Publish fans event out to every handler subscribed to topic.
func (b *Bus) Publish(topic Topic, event interface{}) {
	b.inner.Publish(topic.String(), event)
}

// Subscribe registers handler for topic. handler's signature must match the
// event type published on that topic, per EventBus's reflection-based dispatch.
func (b *Bus) Subscribe(topic Topic, handler interface{}) error {
	return b.inner.Subscribe(topic.String(), handler)
}

// Unsubscribe removes handler from topic.
func (b *Bus) Unsubscribe(topic Topic, handler interface{}) error {
	return b.inner.Unsubscribe(topic.String(), handler)
}
