package shipper

import (
	"github.com/tillu/branchbus/pkg/busrpc"
	"github.com/tillu/branchbus/pkg/events"
)

// toRequest wraps e in a Publish request. The server assigns sequence and
// timestamp, so neither is sent.
func toRequest(e events.Event) (*busrpc.PublishRequest, error) {
	e.Sequence = 0
	env, err := events.ToEnvelope(e)
	if err != nil {
		return nil, err
	}
	return &busrpc.PublishRequest{Event: env}, nil
}
