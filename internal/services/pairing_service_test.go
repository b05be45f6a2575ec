package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/models"
	"github.com/duetapp/duet/pkg/crypto"
	apperrors "github.com/duetapp/duet/pkg/errors"
)

func newPairingService(t *testing.T, db *gorm.DB, clock *testClock, opts ...PairingOption) *PairingService {
	t.Helper()

	opts = append([]PairingOption{
		WithPairingClock(clock.Now),
		WithBaseURL("https://duet.test"),
	}, opts...)

	service, err := NewPairingService(db, opts...)
	require.NoError(t, err)
	return service
}

func TestIssueIsIdempotentPerKind(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	service := newPairingService(t, db, clock)
	inviter := createTestUser(t, db, "inviter@example.com")

	first, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)
	require.NotEmpty(t, first.Credential.Secret)
	require.Contains(t, first.Link, "https://duet.test/invite?token=")

	again, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)
	assert.Equal(t, first.Credential.Secret, again.Credential.Secret)
	assert.Equal(t, first.Credential.ID, again.Credential.ID)

	// A code is an independent credential, not a reuse of the token.
	code, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindCode)
	require.NoError(t, err)
	assert.NotEqual(t, first.Credential.Secret, code.Credential.Secret)
	assert.Len(t, code.Credential.Secret, CodeLength)
	assert.Empty(t, code.Link)

	var count int64
	require.NoError(t, db.Model(&models.PairingCredential{}).
		Where("inviter_id = ?", inviter.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestIssueRejectsPartneredInviter(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	partner := createTestUser(t, db, "partner@example.com")
	require.NoError(t, db.Model(inviter).Update("partner_id", partner.ID).Error)
	require.NoError(t, db.Model(partner).Update("partner_id", inviter.ID).Error)

	_, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.ErrorIs(t, err, ErrAlreadyPartnered)
}

func TestCodeUsesUnambiguousAlphabet(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)
	inviter := createTestUser(t, db, "inviter@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindCode)
	require.NoError(t, err)

	for _, r := range issued.Credential.Secret {
		assert.True(t, strings.ContainsRune(crypto.CodeAlphabet, r),
			"code contains character outside alphabet: %q", r)
	}
}

func TestRegenerateInvalidatesOldSecret(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)
	inviter := createTestUser(t, db, "inviter@example.com")

	old, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	fresh, err := service.Regenerate(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)
	require.NotEqual(t, old.Credential.Secret, fresh.Credential.Secret)

	_, err = service.Validate(context.Background(), old.Credential.Secret)
	require.ErrorIs(t, err, ErrCredentialNotFound)

	_, err = service.Validate(context.Background(), fresh.Credential.Secret)
	require.NoError(t, err)
}

func TestValidateDistinguishesFailureReasons(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	service := newPairingService(t, db, clock)
	inviter := createTestUser(t, db, "inviter@example.com")

	_, err := service.Validate(context.Background(), "no-such-secret")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindCode)
	require.NoError(t, err)

	credential, err := service.Validate(context.Background(), issued.Credential.Secret)
	require.NoError(t, err)
	require.NotNil(t, credential.Inviter)
	assert.Equal(t, inviter.ID, credential.Inviter.ID)

	clock.Advance(DefaultCodeTTL + time.Minute)
	_, err = service.Validate(context.Background(), issued.Credential.Secret)
	require.ErrorIs(t, err, ErrCredentialExpired)

	accepted := clock.Now()
	require.NoError(t, db.Model(&models.PairingCredential{}).
		Where("id = ?", issued.Credential.ID).
		Update("accepted_at", accepted).Error)
	_, err = service.Validate(context.Background(), issued.Credential.Secret)
	require.ErrorIs(t, err, ErrCredentialAlreadyUsed)
}

func TestRedeemLinksBothPartners(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	accepter := createTestUser(t, db, "accepter@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	// The accepter has a pending invitation of their own that becomes moot.
	moot, err := service.Issue(context.Background(), accepter.ID, models.CredentialKindCode)
	require.NoError(t, err)

	result, err := service.Redeem(context.Background(), issued.Credential.Secret, accepter.ID)
	require.NoError(t, err)

	require.NotNil(t, result.Accepter.PartnerID)
	require.NotNil(t, result.Inviter.PartnerID)
	assert.Equal(t, inviter.ID, *result.Accepter.PartnerID)
	assert.Equal(t, accepter.ID, *result.Inviter.PartnerID)

	var consumed models.PairingCredential
	require.NoError(t, db.First(&consumed, "id = ?", issued.Credential.ID).Error)
	require.NotNil(t, consumed.AcceptedAt)
	require.NotNil(t, consumed.AcceptedBy)
	assert.Equal(t, accepter.ID, *consumed.AcceptedBy)

	err = db.First(&models.PairingCredential{}, "id = ?", moot.Credential.ID).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRedeemRejectsSelfAcceptance(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)
	inviter := createTestUser(t, db, "inviter@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	_, err = service.Redeem(context.Background(), issued.Credential.Secret, inviter.ID)
	require.ErrorIs(t, err, ErrSelfAcceptance)
}

func TestRedeemRejectsPartneredAccepter(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	accepter := createTestUser(t, db, "accepter@example.com")
	third := createTestUser(t, db, "third@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	require.NoError(t, db.Model(accepter).Update("partner_id", third.ID).Error)
	require.NoError(t, db.Model(third).Update("partner_id", accepter.ID).Error)

	_, err = service.Redeem(context.Background(), issued.Credential.Secret, accepter.ID)
	require.ErrorIs(t, err, ErrAlreadyPartnered)
}

func TestRedeemRejectsPartneredInviter(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	accepter := createTestUser(t, db, "accepter@example.com")
	third := createTestUser(t, db, "third@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	// The inviter pairs with someone else after sharing the link.
	require.NoError(t, db.Model(inviter).Update("partner_id", third.ID).Error)
	require.NoError(t, db.Model(third).Update("partner_id", inviter.ID).Error)

	_, err = service.Redeem(context.Background(), issued.Credential.Secret, accepter.ID)
	require.ErrorIs(t, err, ErrInviterAlreadyPartnered)
}

func TestRedeemTwiceConsumesOnce(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	first := createTestUser(t, db, "first@example.com")
	second := createTestUser(t, db, "second@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	_, err = service.Redeem(context.Background(), issued.Credential.Secret, first.ID)
	require.NoError(t, err)

	_, err = service.Redeem(context.Background(), issued.Credential.Secret, second.ID)
	require.ErrorIs(t, err, ErrCredentialAlreadyUsed)

	var loaded models.User
	require.NoError(t, db.First(&loaded, "id = ?", second.ID).Error)
	assert.Nil(t, loaded.PartnerID)
}

func TestRedeemExpiredCredential(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	accepter := createTestUser(t, db, "accepter@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	clock.Advance(DefaultTokenTTL + time.Hour)
	_, err = service.Redeem(context.Background(), issued.Credential.Secret, accepter.ID)
	require.ErrorIs(t, err, ErrCredentialExpired)
}

func TestUnlinkClearsBothSides(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	accepter := createTestUser(t, db, "accepter@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)
	_, err = service.Redeem(context.Background(), issued.Credential.Secret, accepter.ID)
	require.NoError(t, err)

	require.NoError(t, service.Unlink(context.Background(), accepter.ID))

	var a, b models.User
	require.NoError(t, db.First(&a, "id = ?", inviter.ID).Error)
	require.NoError(t, db.First(&b, "id = ?", accepter.ID).Error)
	assert.Nil(t, a.PartnerID)
	assert.Nil(t, b.PartnerID)

	err = service.Unlink(context.Background(), accepter.ID)
	require.ErrorIs(t, err, ErrNoPartnerToUnlink)
}

func TestUnlinkedUserCanPairAgain(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	first := createTestUser(t, db, "first@example.com")
	second := createTestUser(t, db, "second@example.com")
	third := createTestUser(t, db, "third@example.com")

	issued, err := service.Issue(context.Background(), first.ID, models.CredentialKindToken)
	require.NoError(t, err)
	_, err = service.Redeem(context.Background(), issued.Credential.Secret, second.ID)
	require.NoError(t, err)

	require.NoError(t, service.Unlink(context.Background(), first.ID))

	// The freed user can issue a fresh invitation and link with someone new.
	reissued, err := service.Issue(context.Background(), first.ID, models.CredentialKindCode)
	require.NoError(t, err)
	result, err := service.Redeem(context.Background(), reissued.Credential.Secret, third.ID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, result.Accepter.ID)

	var a, b, c models.User
	require.NoError(t, db.First(&a, "id = ?", first.ID).Error)
	require.NoError(t, db.First(&b, "id = ?", third.ID).Error)
	require.NoError(t, db.First(&c, "id = ?", second.ID).Error)
	require.NotNil(t, a.PartnerID)
	require.NotNil(t, b.PartnerID)
	assert.Equal(t, third.ID, *a.PartnerID)
	assert.Equal(t, first.ID, *b.PartnerID)
	assert.Nil(t, c.PartnerID)
}

func TestIssueEmailPersistsRecipient(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)
	inviter := createTestUser(t, db, "inviter@example.com")

	issued, err := service.IssueEmail(context.Background(), inviter.ID, "Friend@Example.com")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialKindEmail, issued.Credential.Kind)
	assert.Equal(t, "friend@example.com", issued.Credential.RecipientEmail)
	assert.Contains(t, issued.Link, issued.Credential.Secret)

	// Re-inviting the same address reuses the credential.
	again, err := service.IssueEmail(context.Background(), inviter.ID, "friend@example.com")
	require.NoError(t, err)
	assert.Equal(t, issued.Credential.ID, again.Credential.ID)

	// A different address gets its own credential.
	other, err := service.IssueEmail(context.Background(), inviter.ID, "other@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, issued.Credential.ID, other.Credential.ID)
}

func TestDeclineEmailInvitation(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	recipient := createTestUser(t, db, "friend@example.com")
	stranger := createTestUser(t, db, "stranger@example.com")

	issued, err := service.IssueEmail(context.Background(), inviter.ID, recipient.Email)
	require.NoError(t, err)

	err = service.Decline(context.Background(), issued.Credential.Secret, stranger.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, service.Decline(context.Background(), issued.Credential.Secret, recipient.ID))

	_, err = service.Validate(context.Background(), issued.Credential.Secret)
	require.ErrorIs(t, err, ErrCredentialDeclined)

	_, err = service.Redeem(context.Background(), issued.Credential.Secret, recipient.ID)
	require.ErrorIs(t, err, ErrCredentialDeclined)
}

func TestDeclineOnlyAppliesToEmailKind(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	other := createTestUser(t, db, "other@example.com")

	issued, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindToken)
	require.NoError(t, err)

	err = service.Decline(context.Background(), issued.Credential.Secret, other.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, apperrors.ErrForbidden)
}

func TestPurgeExpiredCredentials(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	service := newPairingService(t, db, clock)

	inviter := createTestUser(t, db, "inviter@example.com")
	fresh := createTestUser(t, db, "fresh@example.com")

	_, err := service.Issue(context.Background(), inviter.ID, models.CredentialKindCode)
	require.NoError(t, err)

	clock.Advance(DefaultCodeTTL + time.Hour)

	keep, err := service.Issue(context.Background(), fresh.ID, models.CredentialKindCode)
	require.NoError(t, err)

	purged, err := service.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = service.Validate(context.Background(), keep.Credential.Secret)
	require.NoError(t, err)
}

func TestRepairAsymmetricLinks(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock(time.Now().UTC())
	service := newPairingService(t, db, clock)

	dangling := createTestUser(t, db, "dangling@example.com")
	other := createTestUser(t, db, "other@example.com")
	left := createTestUser(t, db, "left@example.com")
	right := createTestUser(t, db, "right@example.com")

	// dangling points at other, other points nowhere.
	require.NoError(t, db.Model(dangling).Update("partner_id", other.ID).Error)

	// A healthy symmetric pair must be untouched.
	require.NoError(t, db.Model(left).Update("partner_id", right.ID).Error)
	require.NoError(t, db.Model(right).Update("partner_id", left.ID).Error)

	repaired, err := service.RepairAsymmetricLinks(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, repaired)

	var repairedUser models.User
	require.NoError(t, db.First(&repairedUser, "id = ?", dangling.ID).Error)
	assert.Nil(t, repairedUser.PartnerID)

	var untouched models.User
	require.NoError(t, db.First(&untouched, "id = ?", left.ID).Error)
	require.NotNil(t, untouched.PartnerID)
	assert.Equal(t, right.ID, *untouched.PartnerID)
}
