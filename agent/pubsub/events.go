package pubsub

import "errors"

// ErrSlowSubscriber is reported by a subscription that was closed because it
// did not keep up with the channel.
var ErrSlowSubscriber = errors.New("subscriber too slow, events dropped")

// Event is one entry of a channel log. Seq is strictly increasing per
// channel and never reused.
type Event[T any] struct {
	Channel string `json:"channel"`
	Seq     uint64 `json:"seq"`
	Time    int64  `json:"time"`
	Payload T      `json:"payload"`
}

// Codec encodes payloads for tails that leave the process.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}
