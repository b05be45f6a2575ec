package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/models"
	"github.com/duetapp/duet/internal/notifications"
	apperrors "github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/logger"
)

// Notification event types emitted by the pairing and goal subsystems.
const (
	NotificationTypeInviteReceived  = "pairing.invite_received"
	NotificationTypePartnerLinked   = "pairing.partner_linked"
	NotificationTypePartnerUnlinked = "pairing.partner_unlinked"
	NotificationTypeGoalCompleted   = "goals.completed"
)

// CreateNotificationInput describes a notification to persist and broadcast.
type CreateNotificationInput struct {
	UserID    string
	Type      string
	Title     string
	Message   string
	Severity  string
	ActionURL string
	Metadata  map[string]any
}

// ListNotificationsOptions filters notification listings.
type ListNotificationsOptions struct {
	UnreadOnly bool
	Limit      int
}

// NotificationService persists in-app notifications and pushes them to
// connected websocket subscribers.
type NotificationService struct {
	db  *gorm.DB
	hub *notifications.Hub
	now func() time.Time
}

// NotificationOption customises NotificationService behaviour.
type NotificationOption func(*NotificationService)

// WithNotificationClock injects a custom clock primarily for testing.
func WithNotificationClock(clock func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewNotificationService constructs a NotificationService. The hub may be nil
// when websocket delivery is not wired, persistence still works.
func NewNotificationService(db *gorm.DB, hub *notifications.Hub, opts ...NotificationOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}

	service := &NotificationService{db: db, hub: hub, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create persists a notification and broadcasts it to the recipient.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	if input.UserID == "" {
		return nil, apperrors.NewBadRequest("notification recipient is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, apperrors.NewBadRequest("notification title is required")
	}

	notification := &models.Notification{
		UserID:    input.UserID,
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		Severity:  defaultIfEmpty(input.Severity, "info"),
		ActionURL: input.ActionURL,
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification service: encode metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(raw)
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	if s.hub != nil {
		s.hub.Broadcast(notification.UserID, notifications.Event{
			Event:        "notification.created",
			Notification: notification,
		})
	}

	return notification, nil
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, opts ListNotificationsOptions) ([]models.Notification, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if opts.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var items []models.Notification
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}
	return items, nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks a single notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)

	now := s.now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if result.Error != nil {
		return fmt.Errorf("notification service: mark read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	if s.hub != nil {
		s.hub.Broadcast(userID, notifications.Event{
			Event:          "notification.read",
			NotificationID: notificationID,
		})
	}
	return nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes a notification owned by the user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// InvitationEmailed notifies the recipient when they already have an account.
func (s *NotificationService) InvitationEmailed(ctx context.Context, inviter *models.User, credential *models.PairingCredential) {
	ctx = ensureContext(ctx)

	var recipient models.User
	err := s.db.WithContext(ctx).
		First(&recipient, "email = ?", strings.ToLower(credential.RecipientEmail)).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("invitation notification lookup failed", zap.Error(err))
		}
		return
	}

	s.create(ctx, CreateNotificationInput{
		UserID:  recipient.ID,
		Type:    NotificationTypeInviteReceived,
		Title:   "Partner invitation",
		Message: fmt.Sprintf("%s invited you to pair up", inviterName(inviter)),
		Metadata: map[string]any{
			"inviter_id": inviter.ID,
			"kind":       string(credential.Kind),
		},
	})
}

// PartnerLinked notifies both halves of a freshly formed link.
func (s *NotificationService) PartnerLinked(ctx context.Context, accepter, inviter *models.User) {
	s.create(ctx, CreateNotificationInput{
		UserID:   inviter.ID,
		Type:     NotificationTypePartnerLinked,
		Title:    "You are paired",
		Message:  fmt.Sprintf("%s accepted your invitation", inviterName(accepter)),
		Severity: "success",
		Metadata: map[string]any{"partner_id": accepter.ID},
	})
	s.create(ctx, CreateNotificationInput{
		UserID:   accepter.ID,
		Type:     NotificationTypePartnerLinked,
		Title:    "You are paired",
		Message:  fmt.Sprintf("You are now linked with %s", inviterName(inviter)),
		Severity: "success",
		Metadata: map[string]any{"partner_id": inviter.ID},
	})
}

// PartnerUnlinked notifies the former partner that the link was dissolved.
func (s *NotificationService) PartnerUnlinked(ctx context.Context, initiator, former *models.User) {
	s.create(ctx, CreateNotificationInput{
		UserID:   former.ID,
		Type:     NotificationTypePartnerUnlinked,
		Title:    "Partnership ended",
		Message:  fmt.Sprintf("%s unlinked your accounts", inviterName(initiator)),
		Severity: "warning",
	})
}

// GoalCompleted notifies the partner when a shared goal is finished.
func (s *NotificationService) GoalCompleted(ctx context.Context, actor *models.User, partnerID string, goal *models.Goal) {
	if partnerID == "" {
		return
	}
	s.create(ctx, CreateNotificationInput{
		UserID:   partnerID,
		Type:     NotificationTypeGoalCompleted,
		Title:    "Goal completed",
		Message:  fmt.Sprintf("%s completed %q", inviterName(actor), goal.Title),
		Severity: "success",
		Metadata: map[string]any{"goal_id": goal.ID},
	})
}

// create is the best-effort variant used by event hooks, failures are logged.
func (s *NotificationService) create(ctx context.Context, input CreateNotificationInput) {
	if _, err := s.Create(ctx, input); err != nil {
		logger.Warn("notification delivery failed",
			zap.String("type", input.Type), zap.Error(err))
	}
}
