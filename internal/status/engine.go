package status

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Repository is the storage the engine needs.
type Repository interface {
	LoadStatusCandidates(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) ([]models.StatusCandidate, error)
	AdvanceStatus(ctx context.Context, messageIDs []uuid.UUID, target models.MessageStatus) ([]models.StatusChange, error)
}

type Publisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error
	PublishToRoom(ctx context.Context, roomID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error
}

// allowedFrom lists the statuses a message may move out of for each target.
var allowedFrom = map[models.MessageStatus][]models.MessageStatus{
	models.StatusDelivered: {models.StatusSent},
	models.StatusSeen:      {models.StatusSent, models.StatusDelivered},
}

// Result reports which of the requested messages actually moved.
type Result struct {
	Updated []uuid.UUID `json:"updated"`
	Skipped int         `json:"skipped"`
}

// Engine applies authorized, forward-only status transitions.
type Engine struct {
	repo      Repository
	publisher Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func NewEngine(repo Repository, publisher Publisher, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("chat-realtime/status"),
	}
}

func (e *Engine) MarkDelivered(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) (Result, error) {
	return e.Advance(ctx, messageIDs, models.StatusDelivered, requesterID)
}

func (e *Engine) MarkSeen(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) (Result, error) {
	return e.Advance(ctx, messageIDs, models.StatusSeen, requesterID)
}

// Advance moves every message the requester may confirm to target.
// Messages that are unknown, unauthorized or already at or past target are
// skipped without error. A storage failure aborts the whole batch.
func (e *Engine) Advance(ctx context.Context, messageIDs []uuid.UUID, target models.MessageStatus, requesterID uuid.UUID) (Result, error) {
	if _, ok := allowedFrom[target]; !ok {
		return Result{}, apperror.Invalid("status must be delivered or seen")
	}
	ids := dedupe(messageIDs)
	if len(ids) == 0 {
		return Result{Updated: []uuid.UUID{}}, nil
	}

	ctx, span := e.tracer.Start(ctx, "status.advance", trace.WithAttributes(
		attribute.String("chat.status", target.String()),
		attribute.Int("chat.message_count", len(ids)),
	))
	defer span.End()

	candidates, err := e.repo.LoadStatusCandidates(ctx, ids, requesterID)
	if err != nil {
		span.RecordError(err)
		return Result{}, apperror.Transient("load messages", err)
	}

	eligible := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		if authorized(c, requesterID) && canMove(c.Status, target) {
			eligible = append(eligible, c.ID)
		}
	}
	if len(eligible) == 0 {
		return Result{Updated: []uuid.UUID{}, Skipped: len(ids)}, nil
	}

	changes, err := e.repo.AdvanceStatus(ctx, eligible, target)
	if err != nil {
		span.RecordError(err)
		return Result{}, apperror.Transient("update message status", err)
	}
	observability.AddStatusTransitions(target.String(), len(changes))

	updated := make([]uuid.UUID, len(changes))
	for i, ch := range changes {
		updated[i] = ch.ID
	}
	e.notify(ctx, changes, target, requesterID)
	return Result{Updated: updated, Skipped: len(ids) - len(updated)}, nil
}

func authorized(c models.StatusCandidate, requesterID uuid.UUID) bool {
	if c.RecipientID != nil {
		return *c.RecipientID == requesterID
	}
	return c.RoomKind == models.RoomGroup && c.RequesterIsMember
}

func canMove(from, target models.MessageStatus) bool {
	for _, s := range allowedFrom[target] {
		if s == from {
			return true
		}
	}
	return false
}

type roomBatch struct {
	kind         models.RoomKind
	ids          []uuid.UUID
	participants []uuid.UUID
}

// notify publishes one status event per room. Private rooms have no shared
// channel, so their event goes to each participant instead.
func (e *Engine) notify(ctx context.Context, changes []models.StatusChange, target models.MessageStatus, requesterID uuid.UUID) {
	var order []uuid.UUID
	batches := make(map[uuid.UUID]*roomBatch)
	for _, ch := range changes {
		b, ok := batches[ch.RoomID]
		if !ok {
			b = &roomBatch{kind: ch.RoomKind}
			batches[ch.RoomID] = b
			order = append(order, ch.RoomID)
		}
		b.ids = append(b.ids, ch.ID)
		if ch.RoomKind == models.RoomPrivate {
			b.participants = appendUnique(b.participants, ch.SenderID)
			if ch.RecipientID != nil {
				b.participants = appendUnique(b.participants, *ch.RecipientID)
			}
		}
	}

	for _, roomID := range order {
		b := batches[roomID]
		ev, err := models.NewEvent(models.EventMessageStatusUpdate, models.StatusUpdateData{
			RoomID:     roomID,
			MessageIDs: b.ids,
			Status:     target,
			UpdatedBy:  requesterID,
		})
		if err != nil {
			e.logger.Error().Err(err).Msg("encode status update")
			continue
		}

		if b.kind == models.RoomPrivate {
			for _, userID := range b.participants {
				if err := e.publisher.PublishToUser(ctx, userID, ev); err != nil {
					e.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("status update publish failed")
				}
			}
			continue
		}
		if err := e.publisher.PublishToRoom(ctx, roomID, ev); err != nil {
			e.logger.Warn().Err(err).Str("room_id", roomID.String()).Msg("status update publish failed")
		}
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
