// Package gochannel provides the in-process Watermill channel used by a
// single concord process and by tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Options tunes the in-process channel.
type Options struct {
	Buffer        int64
	Persistent    bool // Replay past messages to late subscribers
	BlockUntilAck bool // Publish returns only after subscribers acked
}

// DefaultOptions suits a long-running process: large buffer, fire and forget.
func DefaultOptions() Options {
	return Options{Buffer: 1000}
}

// TestOptions makes delivery deterministic for tests.
func TestOptions() Options {
	return Options{Buffer: 10, Persistent: true, BlockUntilAck: true}
}

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
func CreateChannel(logger watermill.LoggerAdapter, opts Options) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            opts.Buffer,
			Persistent:                     opts.Persistent,
			BlockPublishUntilSubscriberAck: opts.BlockUntilAck,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
