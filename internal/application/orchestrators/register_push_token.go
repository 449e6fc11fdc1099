package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"academy/internal/adapters/api"
	outboxStore "academy/internal/adapters/storage/outbox"
	domain "academy/internal/domain/outbox"
)

// Push token errors
var (
	ErrEmptyPushToken  = errors.New("push token is required")
	ErrInvalidPlatform = errors.New("platform must be ios, android or web")
)

// RegisterPushTokenInput carries the device token to register.
type RegisterPushTokenInput struct {
	Token    string
	Platform string
}

// Validate checks the input.
// PRE: Input is populated from config or the UI shell
// POST: Returns nil if valid, error otherwise
func (i *RegisterPushTokenInput) Validate() error {
	if strings.TrimSpace(i.Token) == "" {
		return ErrEmptyPushToken
	}
	switch i.Platform {
	case "ios", "android", "web":
		return nil
	}
	return ErrInvalidPlatform
}

// RegisterPushTokenDeps holds dependencies for ExecuteRegisterPushToken.
type RegisterPushTokenDeps struct {
	OutboxStore outboxStore.Store
	Now         func() time.Time
	GenerateID  func() string
}

// ExecuteRegisterPushToken queues a push-token registration for delivery by
// the outbox worker. A registration already queued for the same token is
// reused.
// PRE: input is valid
// POST: Returns the id of a live outbox entry for the token
func ExecuteRegisterPushToken(ctx context.Context, input RegisterPushTokenInput, deps RegisterPushTokenDeps) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}
	if existing, ok, err := deps.OutboxStore.FindLive(ctx, domain.ActionTypePushToken, input.Token); err != nil {
		return "", fmt.Errorf("find queued registration: %w", err)
	} else if ok {
		slog.Info("push_token_already_queued", "entry_id", existing.ID, "platform", input.Platform)
		return existing.ID, nil
	}

	now, genID := deps.Now, deps.GenerateID
	if now == nil {
		now = time.Now
	}
	if genID == nil {
		genID = uuid.NewString
	}
	payload, err := json.Marshal(api.PushToken{Token: input.Token, Platform: input.Platform})
	if err != nil {
		return "", err
	}
	entry := domain.Entry{
		ID:         genID(),
		ActionType: domain.ActionTypePushToken,
		DedupeKey:  input.Token,
		Payload:    string(payload),
		CreatedAt:  now(),
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}
	if err := deps.OutboxStore.Save(ctx, entry); err != nil {
		return "", fmt.Errorf("queue push token: %w", err)
	}
	slog.Info("push_token_queued", "entry_id", entry.ID, "platform", input.Platform)
	return entry.ID, nil
}

// PushTokenAPI registers device tokens with the backend.
type PushTokenAPI interface {
	RegisterPushToken(ctx context.Context, t api.PushToken) error
}

// PushTokenExecutor delivers push_token outbox entries.
type PushTokenExecutor struct {
	API PushTokenAPI
}

// Execute sends the registration. Client errors other than 408 and 429 are
// permanent: the backend will refuse the same token again.
// PRE: payload is JSON produced by ExecuteRegisterPushToken
// INVARIANT: outbox entry status managed by caller
func (e *PushTokenExecutor) Execute(ctx context.Context, payload string) (string, error) {
	var t api.PushToken
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return "", fmt.Errorf("%w: unmarshal payload: %v", ErrPermanent, err)
	}
	err := e.API.RegisterPushToken(ctx, t)
	var se APIStatusError
	if errors.As(err, &se) {
		code := se.StatusCode()
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %v", ErrPermanent, err)
		}
	}
	return "", err
}
