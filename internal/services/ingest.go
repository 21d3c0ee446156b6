package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/store"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
	"github.com/AnshRaj112/chatrelay-backend/pkg/metrics"
	"github.com/AnshRaj112/chatrelay-backend/pkg/tracing"
)

// Page size bounds for ConversationPage.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Ingestion paths, used as metric labels.
const (
	pathMessage = "message"
	pathStatus  = "status"
	pathBatch   = "batch"
	pathSend    = "send"
)

// StatusOutcome is the result of applying one status of a batch.
type StatusOutcome struct {
	MsgID   string          `json:"msg_id"`
	Status  string          `json:"status"`
	Outcome string          `json:"outcome"`
	Message *models.Message `json:"message,omitempty"`
	Err     error           `json:"-"`
}

// Batch status outcomes.
const (
	OutcomeUpdated       = "updated"
	OutcomeNotFound      = "not_found"
	OutcomeInvalidStatus = "invalid_status"
	OutcomeFailed        = "failed"
)

// MarkedReadEvent is the payload of messages_marked_read.
type MarkedReadEvent struct {
	WaID  string `json:"wa_id"`
	Count int64  `json:"count"`
}

// IngestionService turns webhook payloads into stored messages and realtime events.
type IngestionService struct {
	store  store.MessageStore
	fanout Fanout
	log    *logger.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures an IngestionService.
type Option func(*IngestionService)

// WithClock overrides the processing clock used for missing upstream timestamps
// and local message ids.
func WithClock(now func() time.Time) Option {
	return func(s *IngestionService) { s.now = now }
}

func NewIngestionService(st store.MessageStore, fanout Fanout, log *logger.Logger, opts ...Option) *IngestionService {
	if log == nil {
		log = logger.Global()
	}
	s := &IngestionService{
		store:  st,
		fanout: fanout,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IngestionService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}

// emit hands an event to the fan-out. Failures are logged, never returned:
// the write already succeeded.
func (s *IngestionService) emit(ctx context.Context, waID, event string, payload any) {
	if s.fanout == nil {
		return
	}
	if err := s.fanout.NotifyAll(ctx, event, payload); err != nil {
		s.log.Warn("fan-out broadcast failed", zap.String("event", event), zap.Error(err))
	}
	if waID == "" {
		return
	}
	if err := s.fanout.NotifyConversation(ctx, waID, event, payload); err != nil {
		s.log.Warn("fan-out conversation emit failed",
			zap.String("event", event), zap.String("wa_id", waID), zap.Error(err))
	}
}

func decodeForIngest(raw []byte) (*models.WebhookEnvelope, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, rejected(err)
	}
	return env, nil
}

// IngestMessage stores the first message of a webhook payload and announces it.
// Replays of the same msg_id return the originally stored record.
func (s *IngestionService) IngestMessage(ctx context.Context, raw []byte) (msg *models.Message, err error) {
	ctx, span := s.startSpan(ctx, "ingest.message")
	defer func() {
		metrics.RecordWebhook(pathMessage, outcomeLabel(err))
		endSpan(span, err)
	}()

	env, err := decodeForIngest(raw)
	if err != nil {
		return nil, err
	}
	return s.ingestMessageEnvelope(ctx, env, span)
}

// IngestMessageEnvelope is IngestMessage for an already decoded envelope.
func (s *IngestionService) IngestMessageEnvelope(ctx context.Context, env *models.WebhookEnvelope) (msg *models.Message, err error) {
	ctx, span := s.startSpan(ctx, "ingest.message")
	defer func() {
		metrics.RecordWebhook(pathBatch, outcomeLabel(err))
		endSpan(span, err)
	}()
	return s.ingestMessageEnvelope(ctx, env, span)
}

func (s *IngestionService) ingestMessageEnvelope(ctx context.Context, env *models.WebhookEnvelope, span trace.Span) (*models.Message, error) {
	extracted, err := MessageFromEnvelope(env, s.now())
	if err != nil {
		return nil, rejected(err)
	}
	span.SetAttributes(
		attribute.String("msg_id", extracted.MsgID),
		attribute.String("wa_id", extracted.WaID),
	)

	stored, err := s.store.UpsertMessage(ctx, extracted)
	if err != nil {
		s.log.Error("failed to store message", zap.String("msg_id", extracted.MsgID), zap.Error(err))
		return nil, storeFailure("failed to store message", err)
	}

	s.log.Debug("message ingested", zap.String("msg_id", stored.MsgID), zap.String("wa_id", stored.WaID))
	s.emit(ctx, stored.WaID, EventNewMessage, stored)
	return stored, nil
}

// IngestStatus applies the first status of a webhook payload. Any further
// statuses in the payload are ignored here; ApplyStatuses handles batches.
func (s *IngestionService) IngestStatus(ctx context.Context, raw []byte) (msg *models.Message, err error) {
	ctx, span := s.startSpan(ctx, "ingest.status")
	defer func() {
		metrics.RecordWebhook(pathStatus, outcomeLabel(err))
		endSpan(span, err)
	}()

	env, err := decodeForIngest(raw)
	if err != nil {
		return nil, err
	}

	ws, ok := FirstStatus(env)
	if !ok {
		return nil, rejected(ErrNoStatus)
	}
	id, rawStatus := ws.MessageID(), ws.Status.String()
	if id == "" || rawStatus == "" {
		return nil, validationError("missing required fields: id and status")
	}
	status, ok := models.ParseMessageStatus(rawStatus)
	if !ok {
		return nil, validationError("invalid status value: %s", rawStatus)
	}
	span.SetAttributes(attribute.String("msg_id", id), attribute.String("status", string(status)))

	updated, err := s.store.UpdateStatus(ctx, id, status)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("message with ID %s not found", id)
	}
	if err != nil {
		s.log.Error("failed to update status", zap.String("msg_id", id), zap.Error(err))
		return nil, storeFailure("failed to update message status", err)
	}

	s.emit(ctx, updated.WaID, EventStatusUpdate, updated)
	return updated, nil
}

// ApplyStatuses applies every status of a webhook payload in order and reports
// one outcome per usable entry. Only an undecodable payload is an error.
func (s *IngestionService) ApplyStatuses(ctx context.Context, raw []byte) ([]StatusOutcome, error) {
	env, err := decodeForIngest(raw)
	if err != nil {
		metrics.RecordWebhook(pathBatch, outcomeLabel(err))
		return nil, err
	}
	return s.ApplyStatusEnvelope(ctx, env), nil
}

// ApplyStatusEnvelope is ApplyStatuses for an already decoded envelope.
func (s *IngestionService) ApplyStatusEnvelope(ctx context.Context, env *models.WebhookEnvelope) []StatusOutcome {
	ctx, span := s.startSpan(ctx, "ingest.statuses")
	defer span.End()

	events := StatusesFromEnvelope(env, s.now())
	span.SetAttributes(attribute.Int("statuses", len(events)))

	outcomes := make([]StatusOutcome, 0, len(events))
	for _, ev := range events {
		out := StatusOutcome{MsgID: ev.MsgID, Status: string(ev.Status)}

		status, ok := models.ParseMessageStatus(string(ev.Status))
		if !ok {
			out.Outcome = OutcomeInvalidStatus
			out.Err = validationError("invalid status value: %s", ev.Status)
			outcomes = append(outcomes, out)
			metrics.RecordWebhook(pathBatch, string(KindValidation))
			continue
		}

		updated, err := s.store.UpdateStatus(ctx, ev.MsgID, status)
		switch {
		case errors.Is(err, store.ErrNotFound):
			out.Outcome = OutcomeNotFound
			out.Err = notFoundError("message with ID %s not found", ev.MsgID)
		case err != nil:
			out.Outcome = OutcomeFailed
			out.Err = storeFailure("failed to update message status", err)
			s.log.Error("failed to update status", zap.String("msg_id", ev.MsgID), zap.Error(err))
		default:
			out.Outcome = OutcomeUpdated
			out.Message = updated
			s.emit(ctx, updated.WaID, EventStatusUpdate, updated)
		}
		metrics.RecordWebhook(pathBatch, outcomeLabel(out.Err))
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// NewLocalMessageID builds an id for a client-originated message.
// The prefix keeps it apart from upstream-assigned ids.
func NewLocalMessageID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", models.LocalMessagePrefix, now.UnixMilli(), uuid.NewString()[:8])
}

// SendLocal stores a message composed by a local client and announces it.
func (s *IngestionService) SendLocal(ctx context.Context, waID, name, text string) (msg *models.Message, err error) {
	ctx, span := s.startSpan(ctx, "ingest.send")
	defer func() {
		metrics.RecordWebhook(pathSend, outcomeLabel(err))
		endSpan(span, err)
	}()

	waID = strings.TrimSpace(waID)
	if waID == "" || strings.TrimSpace(text) == "" {
		return nil, validationError("wa_id and text are required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = models.UnknownName
	}

	now := s.now()
	local := &models.Message{
		MsgID:     NewLocalMessageID(now),
		WaID:      waID,
		Name:      name,
		Text:      text,
		Timestamp: now,
		Status:    models.MessageStatusSent,
	}

	stored, err := s.store.UpsertMessage(ctx, local)
	if err != nil {
		s.log.Error("failed to store local message", zap.String("wa_id", waID), zap.Error(err))
		return nil, storeFailure("failed to send message", err)
	}

	s.emit(ctx, stored.WaID, EventNewMessage, stored)
	return stored, nil
}

// MarkConversationRead marks every unread message of waID read and announces
// how many changed. A second call reports zero.
func (s *IngestionService) MarkConversationRead(ctx context.Context, waID string) (*models.MarkReadResult, error) {
	waID = strings.TrimSpace(waID)
	if waID == "" {
		return nil, validationError("wa_id is required")
	}

	n, err := s.store.MarkAllRead(ctx, waID)
	if err != nil {
		s.log.Error("failed to mark conversation read", zap.String("wa_id", waID), zap.Error(err))
		return nil, storeFailure("failed to mark messages as read", err)
	}

	s.emit(ctx, waID, EventMessagesMarkedRead, MarkedReadEvent{WaID: waID, Count: n})
	return &models.MarkReadResult{WaID: waID, ModifiedCount: n}, nil
}

// ListConversations aggregates every stored message into conversation summaries.
func (s *IngestionService) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	msgs, err := s.store.ListAll(ctx)
	if err != nil {
		s.log.Error("failed to list messages", zap.Error(err))
		return nil, storeFailure("failed to fetch conversations", err)
	}
	return AggregateConversations(msgs), nil
}

// NormalizePage clamps page to >= 1 and limit to [1, MaxPageLimit],
// defaulting a non-positive limit to DefaultPageLimit.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// ConversationPage returns one time-ascending window of waID's messages.
// Page 1 is the newest window.
func (s *IngestionService) ConversationPage(ctx context.Context, waID string, page, limit int) (*models.MessagePage, error) {
	waID = strings.TrimSpace(waID)
	if waID == "" {
		return nil, validationError("wa_id is required")
	}
	page, limit = NormalizePage(page, limit)

	msgs, total, err := s.store.Page(ctx, waID, page, limit)
	if err != nil {
		s.log.Error("failed to page messages", zap.String("wa_id", waID), zap.Error(err))
		return nil, storeFailure("failed to fetch messages", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	skip := store.PageSkip(page, limit)
	return &models.MessagePage{
		WaID:     waID,
		Messages: msgs,
		Pagination: models.Pagination{
			CurrentPage:   page,
			TotalPages:    totalPages,
			TotalMessages: total,
			HasNext:       skip+int64(len(msgs)) < total,
			HasPrev:       page > 1,
		},
	}, nil
}

// Ready reports whether the store is reachable.
func (s *IngestionService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
