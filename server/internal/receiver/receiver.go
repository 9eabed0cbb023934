package receiver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tillu/branchbus/pkg/busrpc"
	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/router"
)

// Publisher routes events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(e events.Event) (router.Result, error)
}

// Receiver implements busrpc.EventBusServer.
type Receiver struct {
	busrpc.UnimplementedEventBusServer
	pub Publisher
}

// New creates a Receiver that publishes accepted events through pub.
func New(pub Publisher) *Receiver {
	return &Receiver{pub: pub}
}

// Publish is the unary RPC called by producers. Producer-supplied sequence
// numbers and timestamps are discarded.
func (r *Receiver) Publish(ctx context.Context, req *busrpc.PublishRequest) (*busrpc.PublishResponse, error) {
	if req == nil || req.Event.Event == "" {
		return nil, status.Error(codes.InvalidArgument, "event is required")
	}

	e, err := events.FromEnvelope(req.Event)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	e.Sequence = 0
	e.EmittedAt = time.Time{}

	res, err := r.pub.Publish(e)
	if err != nil {
		if errors.Is(err, events.ErrInvalidEvent) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	slog.Debug("receiver: event published",
		"event", e.Kind(),
		"branch", e.BranchID,
		"entity", e.EntityID,
		"sequence", res.Event.Sequence,
		"outcome", res.Outcome.String(),
	)

	return &busrpc.PublishResponse{
		Ok:        true,
		Sequence:  res.Event.Sequence,
		Outcome:   res.Outcome.String(),
		Delivered: res.Delivered,
		Failed:    res.Failed,
	}, nil
}
