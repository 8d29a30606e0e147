// Package relay fans messages out to many accounts and routes support
// replies to one.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/transport"
)

var ErrDeliveryFailed = errors.New("delivery failed")

type Auditor interface {
	InsertAudit(ctx context.Context, e models.AuditEntry) error
}

type Result struct {
	Success int
	Failure int
	// Failed lists the recipients that could not be reached, ascending.
	Failed []int64
}

type Dispatcher struct {
	sink        transport.Sink
	audit       Auditor
	concurrency int
	log         zerolog.Logger
}

func New(sink transport.Sink, audit Auditor, concurrency int, log zerolog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{sink: sink, audit: audit, concurrency: concurrency, log: log}
}

// Fanout sends m to every target concurrently. A failing recipient never
// stops the others.
func (d *Dispatcher) Fanout(ctx context.Context, targets []int64, m transport.Message) Result {
	var ok, failed atomic.Int64
	var mu sync.Mutex
	var failedIDs []int64

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, id := range targets {
		id := id
		g.Go(func() error {
			if _, err := d.sink.Send(ctx, id, m); err != nil {
				failed.Add(1)
				mu.Lock()
				failedIDs = append(failedIDs, id)
				mu.Unlock()
				d.log.Debug().Err(err).Int64("recipient", id).Msg("delivery failed")
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failedIDs, func(i, j int) bool { return failedIDs[i] < failedIDs[j] })
	return Result{Success: int(ok.Load()), Failure: int(failed.Load()), Failed: failedIDs}
}

// Broadcast is Fanout plus an audit entry with the counts. It never fails for
// partial delivery.
func (d *Dispatcher) Broadcast(ctx context.Context, actor models.Account, body string, targets []int64) Result {
	res := d.Fanout(ctx, targets, transport.Message{Body: body})
	d.log.Info().Int64("actor_id", actor.ID).Int("success", res.Success).Int("failure", res.Failure).Msg("broadcast finished")
	d.record(ctx, models.AuditEntry{
		ActorID:   actor.ID,
		ActorName: actor.Label(),
		Action:    "broadcast",
		Section:   "broadcast",
		Detail:    fmt.Sprintf("recipients=%d success=%d failure=%d", len(targets), res.Success, res.Failure),
	})
	return res
}

// RouteReply delivers one message to target. Failures come back wrapped in
// ErrDeliveryFailed; both outcomes are audited.
func (d *Dispatcher) RouteReply(ctx context.Context, actor models.Account, target int64, m transport.Message) (transport.MessageRef, error) {
	ref, err := d.sink.Send(ctx, target, m)
	entry := models.AuditEntry{
		ActorID:   actor.ID,
		ActorName: actor.Label(),
		Action:    "reply",
		Section:   "support",
		Detail:    "to=" + strconv.FormatInt(target, 10),
	}
	if err != nil {
		entry.Action = "reply_failed"
		d.record(ctx, entry)
		return transport.MessageRef{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	d.record(ctx, entry)
	return ref, nil
}

func (d *Dispatcher) record(ctx context.Context, e models.AuditEntry) {
	if d.audit == nil {
		return
	}
	if err := d.audit.InsertAudit(ctx, e); err != nil {
		d.log.Error().Err(err).Str("action", e.Action).Msg("audit write failed")
	}
}
