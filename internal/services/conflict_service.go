package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/models"
	apperrors "github.com/duetapp/duet/pkg/errors"
)

var (
	// ErrConflictNotFound indicates the conflict does not exist or is outside the couple.
	ErrConflictNotFound = apperrors.New("CONFLICT_NOT_FOUND", "Conflict not found", http.StatusNotFound)
	// ErrGuidanceUnavailable signals that no AI guidance backend is configured.
	ErrGuidanceUnavailable = apperrors.New("GUIDANCE_UNAVAILABLE", "Guidance is not available", http.StatusServiceUnavailable)
)

const guidanceSystemPrompt = "You are a thoughtful couples counselor. Given a disagreement " +
	"between two partners, suggest concrete, even-handed steps they can take to work through " +
	"it together. Keep the answer under 200 words and never assign blame."

// GuidanceClient is the slice of the OpenAI client the conflict service uses.
// *openai.Client satisfies it; tests provide a stub.
type GuidanceClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CreateConflictInput describes a new conflict entry.
type CreateConflictInput struct {
	Topic       string
	Description string
}

// ConflictService tracks a couple's disagreements and fetches AI guidance.
type ConflictService struct {
	db            *gorm.DB
	guidance      GuidanceClient
	guidanceModel string
	now           func() time.Time
}

// ConflictOption customises ConflictService behaviour.
type ConflictOption func(*ConflictService)

// WithGuidanceClient injects the AI backend used for guidance requests.
func WithGuidanceClient(client GuidanceClient, model string) ConflictOption {
	return func(s *ConflictService) {
		s.guidance = client
		if model != "" {
			s.guidanceModel = model
		}
	}
}

// WithConflictClock injects a custom clock primarily for testing.
func WithConflictClock(clock func() time.Time) ConflictOption {
	return func(s *ConflictService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewConflictService constructs a ConflictService instance.
func NewConflictService(db *gorm.DB, opts ...ConflictOption) (*ConflictService, error) {
	if db == nil {
		return nil, errors.New("conflict service: db is required")
	}

	service := &ConflictService{
		db:            db,
		guidanceModel: openai.GPT4oMini,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create records a new open conflict for the caller's couple.
func (s *ConflictService) Create(ctx context.Context, userID string, input CreateConflictInput) (*models.Conflict, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.Topic) == "" {
		return nil, apperrors.NewBadRequest("conflict topic is required")
	}

	conflict := &models.Conflict{
		CreatedBy:   userID,
		Topic:       strings.TrimSpace(input.Topic),
		Description: input.Description,
		Status:      models.ConflictStatusOpen,
	}
	if err := s.db.WithContext(ctx).Create(conflict).Error; err != nil {
		return nil, fmt.Errorf("conflict service: create conflict: %w", err)
	}
	return conflict, nil
}

// List returns the couple's conflicts, optionally filtered by status.
func (s *ConflictService) List(ctx context.Context, userID, status string) ([]models.Conflict, error) {
	ctx = ensureContext(ctx)

	ids, err := s.coupleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Where("created_by IN ?", ids).
		Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var conflicts []models.Conflict
	if err := query.Find(&conflicts).Error; err != nil {
		return nil, fmt.Errorf("conflict service: list conflicts: %w", err)
	}
	return conflicts, nil
}

// Get loads a single conflict the caller's couple owns.
func (s *ConflictService) Get(ctx context.Context, userID, conflictID string) (*models.Conflict, error) {
	ctx = ensureContext(ctx)
	return s.coupleConflict(ctx, userID, conflictID)
}

// RequestGuidance asks the AI backend for advice and stores the answer.
func (s *ConflictService) RequestGuidance(ctx context.Context, userID, conflictID string) (*models.Conflict, error) {
	ctx = ensureContext(ctx)

	if s.guidance == nil {
		return nil, ErrGuidanceUnavailable
	}

	conflict, err := s.coupleConflict(ctx, userID, conflictID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Topic: %s\n\n%s", conflict.Topic, conflict.Description)
	resp, err := s.guidance.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.guidanceModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: guidanceSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, apperrors.New("GUIDANCE_FAILED", "Could not fetch guidance", http.StatusBadGateway).WithInternal(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.New("GUIDANCE_EMPTY", "Guidance backend returned no answer", http.StatusBadGateway)
	}

	updates := map[string]any{
		"guidance":       strings.TrimSpace(resp.Choices[0].Message.Content),
		"guidance_model": s.guidanceModel,
	}
	if err := s.db.WithContext(ctx).Model(conflict).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("conflict service: store guidance: %w", err)
	}

	return s.coupleConflict(ctx, userID, conflictID)
}

// Resolve closes the conflict with a resolution note.
func (s *ConflictService) Resolve(ctx context.Context, userID, conflictID, resolution string) (*models.Conflict, error) {
	ctx = ensureContext(ctx)

	conflict, err := s.coupleConflict(ctx, userID, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status == models.ConflictStatusResolved {
		return conflict, nil
	}

	updates := map[string]any{
		"status":      models.ConflictStatusResolved,
		"resolution":  strings.TrimSpace(resolution),
		"resolved_at": s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Model(conflict).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("conflict service: resolve conflict: %w", err)
	}

	return s.coupleConflict(ctx, userID, conflictID)
}

func (s *ConflictService) coupleConflict(ctx context.Context, userID, conflictID string) (*models.Conflict, error) {
	ids, err := s.coupleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	var conflict models.Conflict
	err = s.db.WithContext(ctx).
		First(&conflict, "id = ? AND created_by IN ?", conflictID, ids).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("conflict service: load conflict: %w", err)
	}
	return &conflict, nil
}

func (s *ConflictService) coupleIDs(ctx context.Context, userID string) ([]string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("conflict service: load user: %w", err)
	}

	ids := []string{user.ID}
	if user.HasPartner() {
		ids = append(ids, *user.PartnerID)
	}
	return ids, nil
}
