package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/models"
	"github.com/duetapp/duet/pkg/crypto"
	apperrors "github.com/duetapp/duet/pkg/errors"
	"github.com/duetapp/duet/pkg/logger"
	"github.com/duetapp/duet/pkg/mail"
	"github.com/duetapp/duet/pkg/metrics"
)

const (
	// TokenSecretBytes is the entropy of link and email invitation secrets.
	TokenSecretBytes = 32
	// CodeLength is the number of characters in a manually-entered pairing code.
	CodeLength = 6

	// DefaultTokenTTL is how long link and email invitations stay redeemable.
	DefaultTokenTTL = 7 * 24 * time.Hour
	// DefaultCodeTTL is how long short codes stay redeemable.
	DefaultCodeTTL = 48 * time.Hour
	// DefaultOperationTimeout bounds every pairing operation.
	DefaultOperationTimeout = 15 * time.Second

	codeRetryAttempts = 5
)

var (
	// ErrAlreadyPartnered rejects pairing operations by users who already have a partner.
	ErrAlreadyPartnered = apperrors.New("ALREADY_PARTNERED", "You already have a partner", http.StatusConflict)
	// ErrInviterAlreadyPartnered rejects redemption when the inviter paired with someone else first.
	ErrInviterAlreadyPartnered = apperrors.New("INVITER_ALREADY_PARTNERED", "This invitation's sender already has a partner", http.StatusConflict)
	// ErrSelfAcceptance rejects redeeming one's own credential.
	ErrSelfAcceptance = apperrors.New("SELF_ACCEPTANCE", "You cannot accept your own invitation", http.StatusBadRequest)
	// ErrNoPartnerToUnlink signals an unlink request without an existing link.
	ErrNoPartnerToUnlink = apperrors.New("NO_PARTNER", "You do not have a partner to unlink", http.StatusBadRequest)

	// ErrCredentialNotFound means no credential matches the presented secret.
	ErrCredentialNotFound = apperrors.New("CREDENTIAL_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	// ErrCredentialExpired means the credential's expiry has passed.
	ErrCredentialExpired = apperrors.New("CREDENTIAL_EXPIRED", "Invitation has expired", http.StatusGone)
	// ErrCredentialAlreadyUsed means the credential was already redeemed.
	ErrCredentialAlreadyUsed = apperrors.New("CREDENTIAL_USED", "Invitation has already been used", http.StatusConflict)
	// ErrCredentialDeclined means the recipient declined the invitation.
	ErrCredentialDeclined = apperrors.New("CREDENTIAL_DECLINED", "Invitation was declined", http.StatusGone)

	// ErrPartialInconsistency reports a partner link left half-written by the store.
	ErrPartialInconsistency = apperrors.New("PAIRING_INCONSISTENT", "Partner link is in an inconsistent state", http.StatusInternalServerError)
)

// PairingNotifier receives pairing lifecycle events for user-facing delivery.
type PairingNotifier interface {
	InvitationEmailed(ctx context.Context, inviter *models.User, credential *models.PairingCredential)
	PartnerLinked(ctx context.Context, accepter, inviter *models.User)
	PartnerUnlinked(ctx context.Context, initiator, former *models.User)
}

// IssuedCredential is the result of issuing or regenerating a credential.
type IssuedCredential struct {
	Credential *models.PairingCredential `json:"credential"`
	// Link is populated for token and email kinds.
	Link string `json:"link,omitempty"`
}

// RedeemResult carries both halves of a freshly formed partner link.
type RedeemResult struct {
	Accepter *models.User `json:"accepter"`
	Inviter  *models.User `json:"inviter"`
}

// PairingService implements the partner pairing protocol: issuing, validating,
// redeeming and revoking the credentials that link two accounts.
type PairingService struct {
	db        *gorm.DB
	mailer    mail.Mailer
	notifier  PairingNotifier
	baseURL   string
	tokenTTL  time.Duration
	codeTTL   time.Duration
	opTimeout time.Duration
	now       func() time.Time
}

// PairingOption customises PairingService behaviour.
type PairingOption func(*PairingService)

// WithMailer injects the mailer used for email invitations.
func WithMailer(mailer mail.Mailer) PairingOption {
	return func(s *PairingService) { s.mailer = mailer }
}

// WithPairingNotifier injects the lifecycle event sink.
func WithPairingNotifier(notifier PairingNotifier) PairingOption {
	return func(s *PairingService) { s.notifier = notifier }
}

// WithBaseURL sets the public URL invitation links are built against.
func WithBaseURL(baseURL string) PairingOption {
	return func(s *PairingService) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			s.baseURL = trimmed
		}
	}
}

// WithTokenTTL overrides the link/email invitation lifetime.
func WithTokenTTL(ttl time.Duration) PairingOption {
	return func(s *PairingService) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithCodeTTL overrides the short-code lifetime.
func WithCodeTTL(ttl time.Duration) PairingOption {
	return func(s *PairingService) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithOperationTimeout bounds each pairing operation.
func WithOperationTimeout(timeout time.Duration) PairingOption {
	return func(s *PairingService) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// WithPairingClock injects a custom clock primarily for testing.
func WithPairingClock(clock func() time.Time) PairingOption {
	return func(s *PairingService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewPairingService constructs a PairingService instance.
func NewPairingService(db *gorm.DB, opts ...PairingOption) (*PairingService, error) {
	if db == nil {
		return nil, errors.New("pairing service: db is required")
	}

	service := &PairingService{
		db:        db,
		baseURL:   "http://localhost:8080",
		tokenTTL:  DefaultTokenTTL,
		codeTTL:   DefaultCodeTTL,
		opTimeout: DefaultOperationTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Issue creates a credential of the given kind, or returns the caller's
// existing active one of that kind unchanged.
func (s *PairingService) Issue(ctx context.Context, inviterID string, kind models.CredentialKind) (*IssuedCredential, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if kind == models.CredentialKindEmail {
		return nil, apperrors.NewBadRequest("email invitations require a recipient")
	}

	issued, err := s.issue(ctx, inviterID, kind, "")
	s.observe("issue", err)
	return issued, err
}

// IssueEmail creates (or reuses) an email-kind credential addressed to the
// recipient and dispatches the invitation mail. Disabled SMTP is not an error.
func (s *PairingService) IssueEmail(ctx context.Context, inviterID, recipientEmail string) (*IssuedCredential, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	recipientEmail = strings.ToLower(strings.TrimSpace(recipientEmail))
	if recipientEmail == "" {
		return nil, apperrors.NewBadRequest("recipient email is required")
	}

	issued, err := s.issue(ctx, inviterID, models.CredentialKindEmail, recipientEmail)
	s.observe("issue_email", err)
	if err != nil {
		return nil, err
	}

	inviter, err := s.loadUser(ctx, inviterID)
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		msg := mail.Message{
			To:      []string{recipientEmail},
			Subject: fmt.Sprintf("%s invited you to pair up on Duet", inviterName(inviter)),
			Body: fmt.Sprintf(
				"%s wants to link accounts with you on Duet.\r\n\r\nOpen this link to accept:\r\n%s\r\n\r\nThe invitation expires on %s.",
				inviterName(inviter), issued.Link, issued.Credential.ExpiresAt.UTC().Format(time.RFC1123),
			),
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			if errors.Is(err, mail.ErrSMTPDisabled) {
				logger.Debug("invitation mail skipped, smtp disabled")
			} else {
				logger.Warn("invitation mail failed",
					zap.String("recipient", recipientEmail), zap.Error(err))
			}
		}
	}

	if s.notifier != nil {
		s.notifier.InvitationEmailed(ctx, inviter, issued.Credential)
	}

	return issued, nil
}

// Regenerate deletes the caller's unaccepted credentials of the given kind and
// issues a fresh one, invalidating any previously shared secret.
func (s *PairingService) Regenerate(ctx context.Context, inviterID string, kind models.CredentialKind) (*IssuedCredential, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if kind == models.CredentialKindEmail {
		return nil, apperrors.NewBadRequest("email invitations are re-sent, not regenerated")
	}

	issued, err := s.regenerate(ctx, inviterID, kind)
	s.observe("regenerate", err)
	return issued, err
}

func (s *PairingService) regenerate(ctx context.Context, inviterID string, kind models.CredentialKind) (*IssuedCredential, error) {
	if err := s.db.WithContext(ctx).
		Where("inviter_id = ? AND kind = ? AND accepted_at IS NULL", inviterID, kind).
		Delete(&models.PairingCredential{}).Error; err != nil {
		return nil, fmt.Errorf("pairing service: revoke credentials: %w", err)
	}
	return s.issue(ctx, inviterID, kind, "")
}

// Validate resolves a secret to its credential without consuming it. The
// returned errors distinguish unknown, expired, used and declined credentials.
func (s *PairingService) Validate(ctx context.Context, secret string) (*models.PairingCredential, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	credential, err := s.lookup(ctx, secret)
	s.observe("validate", err)
	return credential, err
}

// Redeem consumes the credential and links accepter and inviter as partners.
// All writes happen in a single transaction; each is guarded so a concurrent
// redemption or pairing makes the transaction fail instead of half-applying.
func (s *PairingService) Redeem(ctx context.Context, secret, accepterID string) (*RedeemResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.redeem(ctx, secret, accepterID)
	s.observe("redeem", err)
	return result, err
}

func (s *PairingService) redeem(ctx context.Context, secret, accepterID string) (*RedeemResult, error) {
	accepter, err := s.loadUser(ctx, accepterID)
	if err != nil {
		return nil, err
	}
	if accepter.HasPartner() {
		return nil, ErrAlreadyPartnered
	}

	credential, err := s.lookup(ctx, secret)
	if err != nil {
		return nil, err
	}
	if credential.InviterID == accepterID {
		return nil, ErrSelfAcceptance
	}

	inviter, err := s.loadUser(ctx, credential.InviterID)
	if err != nil {
		return nil, err
	}
	if inviter.HasPartner() {
		return nil, ErrInviterAlreadyPartnered
	}

	now := s.now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		consume := tx.Model(&models.PairingCredential{}).
			Where("id = ? AND accepted_at IS NULL AND declined_at IS NULL AND expires_at > ?", credential.ID, now).
			Updates(map[string]any{"accepted_by": accepterID, "accepted_at": now})
		if consume.Error != nil {
			return fmt.Errorf("pairing service: consume credential: %w", consume.Error)
		}
		if consume.RowsAffected != 1 {
			return ErrCredentialAlreadyUsed
		}

		linkInviter := tx.Model(&models.User{}).
			Where("id = ? AND partner_id IS NULL", inviter.ID).
			Update("partner_id", accepter.ID)
		if linkInviter.Error != nil {
			return fmt.Errorf("pairing service: link inviter: %w", linkInviter.Error)
		}
		if linkInviter.RowsAffected != 1 {
			return ErrInviterAlreadyPartnered
		}

		linkAccepter := tx.Model(&models.User{}).
			Where("id = ? AND partner_id IS NULL", accepter.ID).
			Update("partner_id", inviter.ID)
		if linkAccepter.Error != nil {
			return fmt.Errorf("pairing service: link accepter: %w", linkAccepter.Error)
		}
		if linkAccepter.RowsAffected != 1 {
			return ErrAlreadyPartnered
		}

		// The accepter's own outstanding invitations are moot now.
		if err := tx.
			Where("inviter_id = ? AND accepted_at IS NULL", accepter.ID).
			Delete(&models.PairingCredential{}).Error; err != nil {
			return fmt.Errorf("pairing service: clear moot credentials: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	accepter, inviter, err = s.verifySymmetry(ctx, accepter.ID, inviter.ID)
	if err != nil {
		return nil, err
	}

	metrics.LinkedCouples.Inc()
	if s.notifier != nil {
		s.notifier.PartnerLinked(ctx, accepter, inviter)
	}

	return &RedeemResult{Accepter: accepter, Inviter: inviter}, nil
}

// Decline records the recipient's rejection of an email invitation.
func (s *PairingService) Decline(ctx context.Context, secret, actorID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.decline(ctx, secret, actorID)
	s.observe("decline", err)
	return err
}

func (s *PairingService) decline(ctx context.Context, secret, actorID string) error {
	credential, err := s.lookup(ctx, secret)
	if err != nil {
		return err
	}
	if credential.Kind != models.CredentialKindEmail {
		return apperrors.NewBadRequest("only email invitations can be declined")
	}

	actor, err := s.loadUser(ctx, actorID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actor.Email, credential.RecipientEmail) {
		return apperrors.ErrForbidden
	}

	now := s.now().UTC()
	decline := s.db.WithContext(ctx).Model(&models.PairingCredential{}).
		Where("id = ? AND accepted_at IS NULL AND declined_at IS NULL", credential.ID).
		Update("declined_at", now)
	if decline.Error != nil {
		return fmt.Errorf("pairing service: decline credential: %w", decline.Error)
	}
	if decline.RowsAffected != 1 {
		return ErrCredentialAlreadyUsed
	}
	return nil
}

// Unlink dissolves the caller's partner link, clearing both sides.
func (s *PairingService) Unlink(ctx context.Context, userID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.unlink(ctx, userID)
	s.observe("unlink", err)
	return err
}

func (s *PairingService) unlink(ctx context.Context, userID string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPartner() {
		return ErrNoPartnerToUnlink
	}
	partnerID := *user.PartnerID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		own := tx.Model(&models.User{}).
			Where("id = ? AND partner_id = ?", userID, partnerID).
			Update("partner_id", nil)
		if own.Error != nil {
			return fmt.Errorf("pairing service: clear own link: %w", own.Error)
		}
		if own.RowsAffected != 1 {
			return ErrNoPartnerToUnlink
		}

		// The reciprocal half may already be clear if the link was asymmetric;
		// that is not a failure, clearing our half repairs it.
		reciprocal := tx.Model(&models.User{}).
			Where("id = ? AND partner_id = ?", partnerID, userID).
			Update("partner_id", nil)
		if reciprocal.Error != nil {
			return fmt.Errorf("pairing service: clear reciprocal link: %w", reciprocal.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.LinkedCouples.Dec()
	if s.notifier != nil {
		former, loadErr := s.loadUser(ctx, partnerID)
		if loadErr == nil {
			s.notifier.PartnerUnlinked(ctx, user, former)
		}
	}
	return nil
}

// PurgeExpired deletes unaccepted credentials whose expiry has passed.
func (s *PairingService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("accepted_at IS NULL AND expires_at <= ?", s.now().UTC()).
		Delete(&models.PairingCredential{})
	if result.Error != nil {
		return 0, fmt.Errorf("pairing service: purge expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RepairAsymmetricLinks clears partner references whose counterpart does not
// point back, the compensating action for links a crash left half-written.
func (s *PairingService) RepairAsymmetricLinks(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	var linked []models.User
	if err := s.db.WithContext(ctx).
		Where("partner_id IS NOT NULL").
		Find(&linked).Error; err != nil {
		return 0, fmt.Errorf("pairing service: scan links: %w", err)
	}

	byID := make(map[string]*models.User, len(linked))
	for i := range linked {
		byID[linked[i].ID] = &linked[i]
	}

	var repaired int64
	for i := range linked {
		user := &linked[i]
		counterpart, ok := byID[*user.PartnerID]
		if ok && counterpart.PartnerID != nil && *counterpart.PartnerID == user.ID {
			continue
		}

		result := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND partner_id = ?", user.ID, *user.PartnerID).
			Update("partner_id", nil)
		if result.Error != nil {
			return repaired, fmt.Errorf("pairing service: repair link for %s: %w", user.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			logger.Warn("repaired asymmetric partner link", zap.String("user_id", user.ID))
			repaired++
		}
	}
	return repaired, nil
}

// InviteLink builds the shareable URL for a token or email credential.
func (s *PairingService) InviteLink(secret string) string {
	return fmt.Sprintf("%s/invite?token=%s", s.baseURL, url.QueryEscape(secret))
}

func (s *PairingService) issue(ctx context.Context, inviterID string, kind models.CredentialKind, recipientEmail string) (*IssuedCredential, error) {
	inviter, err := s.loadUser(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	if inviter.HasPartner() {
		return nil, ErrAlreadyPartnered
	}

	now := s.now().UTC()

	existing, err := s.activeCredential(ctx, inviterID, kind, recipientEmail, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.issued(existing), nil
	}

	expiry := now.Add(s.ttlFor(kind))
	for attempt := 0; attempt < codeRetryAttempts; attempt++ {
		secret, err := s.generateSecret(kind)
		if err != nil {
			return nil, fmt.Errorf("pairing service: generate secret: %w", err)
		}

		credential := &models.PairingCredential{
			Kind:           kind,
			Secret:         secret,
			InviterID:      inviterID,
			RecipientEmail: recipientEmail,
			ExpiresAt:      expiry,
		}
		if err := s.db.WithContext(ctx).Create(credential).Error; err != nil {
			if isUniqueConstraintError(err) {
				continue
			}
			return nil, fmt.Errorf("pairing service: create credential: %w", err)
		}
		return s.issued(credential), nil
	}

	return nil, fmt.Errorf("pairing service: could not generate a unique secret after %d attempts", codeRetryAttempts)
}

func (s *PairingService) activeCredential(ctx context.Context, inviterID string, kind models.CredentialKind, recipientEmail string, now time.Time) (*models.PairingCredential, error) {
	query := s.db.WithContext(ctx).
		Where("inviter_id = ? AND kind = ? AND accepted_at IS NULL AND declined_at IS NULL AND expires_at > ?",
			inviterID, kind, now)
	if kind == models.CredentialKindEmail {
		query = query.Where("recipient_email = ?", recipientEmail)
	}

	var credential models.PairingCredential
	if err := query.Order("created_at DESC").First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("pairing service: load active credential: %w", err)
	}
	return &credential, nil
}

func (s *PairingService) lookup(ctx context.Context, secret string) (*models.PairingCredential, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrCredentialNotFound
	}

	var credential models.PairingCredential
	err := s.db.WithContext(ctx).
		Preload("Inviter").
		First(&credential, "secret = ?", secret).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("pairing service: load credential: %w", err)
	}

	switch {
	case credential.AcceptedAt != nil:
		return nil, ErrCredentialAlreadyUsed
	case credential.DeclinedAt != nil:
		return nil, ErrCredentialDeclined
	case !credential.ExpiresAt.After(s.now().UTC()):
		return nil, ErrCredentialExpired
	}
	return &credential, nil
}

func (s *PairingService) verifySymmetry(ctx context.Context, accepterID, inviterID string) (*models.User, *models.User, error) {
	accepter, err := s.loadUser(ctx, accepterID)
	if err != nil {
		return nil, nil, err
	}
	inviter, err := s.loadUser(ctx, inviterID)
	if err != nil {
		return nil, nil, err
	}

	symmetric := accepter.PartnerID != nil && *accepter.PartnerID == inviter.ID &&
		inviter.PartnerID != nil && *inviter.PartnerID == accepter.ID
	if !symmetric {
		return nil, nil, ErrPartialInconsistency.WithInternal(
			fmt.Errorf("partner link between %s and %s is not symmetric after redemption", accepterID, inviterID))
	}
	return accepter, inviter, nil
}

func (s *PairingService) loadUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("pairing service: load user: %w", err)
	}
	return &user, nil
}

func (s *PairingService) generateSecret(kind models.CredentialKind) (string, error) {
	if kind == models.CredentialKindCode {
		return crypto.GenerateCode(CodeLength)
	}
	return crypto.GenerateToken(TokenSecretBytes)
}

func (s *PairingService) ttlFor(kind models.CredentialKind) time.Duration {
	if kind == models.CredentialKindCode {
		return s.codeTTL
	}
	return s.tokenTTL
}

func (s *PairingService) issued(credential *models.PairingCredential) *IssuedCredential {
	out := &IssuedCredential{Credential: credential}
	if credential.Kind != models.CredentialKindCode {
		out.Link = s.InviteLink(credential.Secret)
	}
	return out
}

func (s *PairingService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ensureContext(ctx), s.opTimeout)
}

func (s *PairingService) observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.PairingOperations.WithLabelValues(operation, result).Inc()
}

// inviterName never falls back to the email address: invitations travel
// through unauthenticated channels and must not disclose it.
func inviterName(user *models.User) string {
	if name := strings.TrimSpace(user.DisplayName); name != "" {
		return name
	}
	return "your partner"
}
