package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chat-client/internal/call"
	"chat-client/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	userID      string

	mu       sync.Mutex
	lastCall string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string              `json:"level"`
	Text  string              `json:"text"`
	Call  *models.CallSession `json:"call,omitempty"`
}

// NewAuditEmitter builds an emitter attributing every record to the local user.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment, userID string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		userID:      userID,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string) {
	e.emit(ctx, level, text, requestID, nil)
}

// ObserveCall records call status changes. It matches call.Observer; repeated
// snapshots with an unchanged status are skipped.
func (e *AuditEmitter) ObserveCall(s models.CallSession) {
	if e == nil {
		return
	}
	key := s.CallID + "/" + string(s.Status)
	e.mu.Lock()
	if key == e.lastCall {
		e.mu.Unlock()
		return
	}
	e.lastCall = key
	e.mu.Unlock()

	level := "INFO"
	switch s.EndReason {
	case "", call.ReasonLocalHangUp, call.ReasonRemoteEnded, call.ReasonLocalReject, call.ReasonRemoteRejected:
	default:
		level = "WARN"
	}
	text := fmt.Sprintf("call %s role=%s peer_id=%s", s.Status, s.Role, s.PeerID)
	if s.EndReason != "" {
		text += " reason=" + s.EndReason
	}
	e.emit(context.Background(), level, text, s.CallID, &s)
}

func (e *AuditEmitter) emit(ctx context.Context, level, text, requestID string, session *models.CallSession) {
	if e == nil || e.publisher == nil {
		return
	}

	var userID *string
	if e.userID != "" {
		id := e.userID
		userID = &id
	}
	var traceID string
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	log.Printf("audit emit: level=%s request_id=%s user_id=%s text=%q", level, requestID, e.userID, text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		TraceID:       traceID,
		UserID:        userID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
			Call:  session,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
