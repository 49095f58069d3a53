package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wa-relay/internal/domain"
)

const (
	// FallbackReply is delivered when the generator fails.
	FallbackReply = "I'm having trouble thinking right now. Try again later."
	// EmptyReply is delivered when the generator answers with blank text.
	EmptyReply = "Sorry, I didn't get that."
)

// Store persists inbound messages and recalls them per sender.
type Store interface {
	Append(ctx context.Context, senderID, text string) error
	// Recent returns at most limit message texts, newest first.
	Recent(ctx context.Context, senderID string, limit int) ([]string, error)
}

type ReplyGenerator interface {
	Generate(ctx context.Context, systemPrompt, userContext string) (string, error)
}

type ReplySender interface {
	Send(ctx context.Context, to, text string) (string, error)
}

// DuplicateGuard claims transport message ids. Seen claims the id and
// reports whether it was already claimed; Release drops a claim whose
// message could not be stored so a redelivery is processed again.
type DuplicateGuard interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// RelayConfig carries the collaborators of a RelayService. Store may be nil,
// in which case every submission fails with ErrorConfiguration. Guard is
// optional. A zero Persona selects domain.DefaultPersona.
type RelayConfig struct {
	Store     Store
	Generator ReplyGenerator
	Sender    ReplySender
	Guard     DuplicateGuard
	Persona   domain.Persona
	Order     HistoryOrder
	Logger    *slog.Logger
}

type RelayService struct {
	store        Store
	generator    ReplyGenerator
	sender       ReplySender
	guard        DuplicateGuard
	systemPrompt string
	order        HistoryOrder
	log          *slog.Logger
}

type RelayOutput struct {
	Stage      Stage
	SenderID   string
	Reply      string
	DeliveryID string
	Duplicate  bool
	// SoftFailures lists the codes of dependencies that failed without
	// failing the request.
	SoftFailures []ErrorCode
}

func NewRelayService(cfg RelayConfig) (*RelayService, error) {
	if cfg.Generator == nil {
		return nil, errors.New("usecase: reply generator must not be nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("usecase: reply sender must not be nil")
	}
	persona := cfg.Persona
	if persona == (domain.Persona{}) {
		persona = domain.DefaultPersona
	}
	if err := persona.Validate(); err != nil {
		return nil, err
	}
	order := cfg.Order
	if order == "" {
		order = OrderRecentFirst
	}
	if order != OrderRecentFirst && order != OrderChronological {
		return nil, fmt.Errorf("usecase: unknown history order %q", order)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayService{
		store:        cfg.Store,
		generator:    cfg.Generator,
		sender:       cfg.Sender,
		guard:        cfg.Guard,
		systemPrompt: persona.SystemPrompt(),
		order:        order,
		log:          logger,
	}, nil
}

// Relay runs one webhook submission through the pipeline. Only configuration,
// input, and storage write failures are returned; every later failure is
// logged, recorded in SoftFailures, and replaced by a default value.
func (s *RelayService) Relay(ctx context.Context, body []byte) (RelayOutput, error) {
	out := RelayOutput{Stage: StageReceived}
	if s.store == nil {
		out.Stage = StageRejected
		return out, newError(ErrorConfiguration, "storage_not_configured", nil)
	}

	msg, err := parseInbound(body)
	if err != nil {
		out.Stage = StageRejected
		return out, err
	}
	out.Stage = StageValidated
	out.SenderID = msg.SenderID

	claimed := false
	if s.guard != nil && msg.MessageID != "" {
		seen, err := s.guard.Seen(ctx, msg.MessageID)
		switch {
		case err != nil:
			s.soft(ctx, &out, ErrorDedup, err)
		case seen:
			s.log.InfoContext(ctx, "duplicate message skipped", "sender", msg.SenderID, "message_id", msg.MessageID)
			out.Duplicate = true
			out.Stage = StageDone
			return out, nil
		default:
			claimed = true
		}
	}

	if err := s.store.Append(ctx, msg.SenderID, msg.Text); err != nil {
		if claimed {
			if relErr := s.guard.Release(ctx, msg.MessageID); relErr != nil {
				s.soft(ctx, &out, ErrorDedup, relErr)
			}
		}
		return out, newError(ErrorStorageWrite, "storage_write_error", err)
	}
	out.Stage = StagePersisted

	history, err := s.store.Recent(ctx, msg.SenderID, contextWindow)
	if err != nil {
		s.soft(ctx, &out, ErrorStorageRead, err)
		history = nil
	}
	userContext := buildContext(history, msg.Text, s.order)
	out.Stage = StageContextBuilt

	out.Reply = s.generate(ctx, &out, userContext)
	out.Stage = StageGenerated

	id, err := s.sender.Send(ctx, msg.SenderID, out.Reply)
	if err != nil {
		s.soft(ctx, &out, ErrorDelivery, err)
	} else {
		out.DeliveryID = id
		out.Stage = StageDelivered
	}

	out.Stage = StageDone
	return out, nil
}

func (s *RelayService) generate(ctx context.Context, out *RelayOutput, userContext string) string {
	reply, err := s.generator.Generate(ctx, s.systemPrompt, userContext)
	if err != nil {
		s.soft(ctx, out, ErrorGeneration, err)
		return FallbackReply
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		s.log.WarnContext(ctx, "generator returned empty reply", "sender", out.SenderID)
		return EmptyReply
	}
	return reply
}

func (s *RelayService) soft(ctx context.Context, out *RelayOutput, code ErrorCode, err error) {
	out.SoftFailures = append(out.SoftFailures, code)
	attrs := []any{"sender", out.SenderID, "stage", out.Stage.String(), "code", string(code), "err", err}
	if status, ok := upstreamStatusCode(err); ok {
		attrs = append(attrs, "upstream_status", status)
	}
	s.log.WarnContext(ctx, "dependency failed, continuing", attrs...)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
