// internal/pilot/service.go
package pilot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/pilot/bus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxInFlight bounds concurrently handled queries.
const DefaultMaxInFlight = 4

// Dispatcher runs one decoded DOM action.
type Dispatcher interface {
	Dispatch(ctx context.Context, tabID int, params schemas.DOMActionParams) schemas.ActionResult
}

// ServiceSettings tune the query service. Zero fields take the defaults.
type ServiceSettings struct {
	MaxInFlight    int
	QueryTimeout   time.Duration
	ToastMinTrying time.Duration
}

// Service consumes dom_action queries from the bus, runs them through the
// dispatcher and publishes one command result per query.
type Service struct {
	dispatcher Dispatcher
	bus        *bus.Bus
	toaster    *Toaster
	settings   ServiceSettings
	logger     *zap.Logger
}

// NewService creates a query service. Toasts for queries that carry a
// reason are published on bus.TopicToast.
func NewService(d Dispatcher, b *bus.Bus, settings ServiceSettings, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.MaxInFlight <= 0 {
		settings.MaxInFlight = DefaultMaxInFlight
	}
	if settings.QueryTimeout <= 0 {
		settings.QueryTimeout = schemas.AsyncCommandTimeout
	}
	s := &Service{dispatcher: d, bus: b, settings: settings, logger: logger.Named("pilot")}
	s.toaster = NewToaster(settings.ToastMinTrying, func(t Toast) {
		if err := b.Publish(context.Background(), bus.TopicToast, t); err != nil {
			s.logger.Debug("Toast not published.", zap.Error(err))
		}
	})
	return s
}

// Run handles queries until ctx ends or the bus closes. In-flight queries
// finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	msgs, unsubscribe := s.bus.Subscribe(bus.TopicQuery)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.MaxInFlight)
	s.logger.Info("Pilot service started.", zap.Int("max_in_flight", s.settings.MaxInFlight))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-msgs:
			if !ok {
				break loop
			}
			g.Go(func() error {
				defer s.bus.Ack(msg)
				q, ok := msg.Payload.(schemas.PendingQuery)
				if !ok {
					s.logger.Error("Dropped message with unexpected payload.", zap.String("type", fmt.Sprintf("%T", msg.Payload)))
					return nil
				}
				result := s.HandleQuery(gctx, q)
				if err := s.bus.Publish(gctx, bus.TopicResult, result); err != nil {
					s.logger.Warn("Dropped query result.", zap.String("query_id", q.ID), zap.Error(err))
				}
				return nil
			})
		}
	}

	err := g.Wait()
	s.logger.Info("Pilot service stopped.")
	if err != nil {
		return err
	}
	return ctx.Err()
}

// HandleQuery runs one query to completion. Malformed queries come back
// with status error; dispatched actions come back complete, carrying their
// ActionResult whether or not the action succeeded.
func (s *Service) HandleQuery(ctx context.Context, q schemas.PendingQuery) schemas.SyncCommandResult {
	logger := s.logger.With(zap.String("query_id", q.ID), zap.String("correlation_id", q.CorrelationID))

	if q.Type != schemas.QueryTypeDOMAction {
		logger.Warn("Unsupported query type.", zap.String("type", q.Type))
		return s.errorResult(q, schemas.Fail("", "", schemas.ErrInvalidParams, fmt.Sprintf("Unsupported query type %q", q.Type)))
	}

	params, err := decodeParams(q.Params)
	if err != nil {
		logger.Warn("Malformed query params.", zap.Error(err))
		return s.errorResult(q, schemas.Fail("", "", schemas.ErrInvalidParams, err.Error()))
	}
	action := params.EffectiveAction()
	if action == "" {
		return s.errorResult(q, schemas.Fail("", params.Selector, schemas.ErrMissingAction, "Query params carry no action"))
	}
	if action == schemas.ActionWaitFor && params.Selector == "" {
		return s.errorResult(q, schemas.Fail(action, "", schemas.ErrMissingSelector, "wait_for needs a selector"))
	}

	var toast *ToastSequence
	if params.Reason != "" {
		toast = s.toaster.Begin(q.TabID, params.Reason)
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()
	logger.Info("Handling DOM action.", zap.String("action", string(action)), zap.String("selector", params.Selector))
	res := s.dispatcher.Dispatch(ctx, q.TabID, params)

	if toast != nil {
		toast.Finish(res.Success, outcomeDetail(string(res.Error), res.Message))
	}
	return s.completeResult(q, res)
}

func (s *Service) completeResult(q schemas.PendingQuery, res schemas.ActionResult) schemas.SyncCommandResult {
	out := schemas.SyncCommandResult{ID: q.ID, CorrelationID: q.CorrelationID, Status: schemas.StatusComplete}
	raw, err := json.Marshal(res)
	if err != nil {
		out.Status = schemas.StatusError
		out.Error = fmt.Sprintf("failed to encode result: %v", err)
		return out
	}
	out.Result = raw
	return out
}

func (s *Service) errorResult(q schemas.PendingQuery, res schemas.ActionResult) schemas.SyncCommandResult {
	out := s.completeResult(q, res)
	out.Status = schemas.StatusError
	if out.Error == "" {
		out.Error = string(res.Error)
	}
	return out
}

// decodeParams accepts params as a JSON object or as a JSON string holding
// one.
func decodeParams(raw []byte) (schemas.DOMActionParams, error) {
	var params schemas.DOMActionParams
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return params, fmt.Errorf("params are missing")
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return params, fmt.Errorf("params string is not valid JSON: %w", err)
		}
		raw = bytes.TrimSpace([]byte(inner))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return params, fmt.Errorf("params must be a JSON object")
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("params are not a valid action object: %w", err)
	}
	return params, nil
}
