package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relatim/backend/internal/identifier"
	"github.com/relatim/backend/pkg/apperrors"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies for the user and contact
// directory.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider identifier.Provider
	Logger     *zap.Logger
}

// Service manages user accounts keyed by phone number and each user's
// contact list.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider identifier.Provider
	logger     *zap.Logger
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RegisterUser resolves a phone number to an account, creating one on
// first registration. A second registration with the same phone returns
// the existing user unchanged.
func (s *Service) RegisterUser(ctx context.Context, phone, name string) (User, error) {
	phone = strings.TrimSpace(phone)
	name = strings.TrimSpace(name)
	if phone == "" {
		return User{}, apperrors.InvalidArg("phone is required")
	}

	user, err := s.lookupByPhone(ctx, phone)
	if err == nil {
		s.backfillContactLinks(ctx, user)
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperrors.StorageUnavailable("user lookup failed", err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, apperrors.StorageUnavailable("user id generation failed", err)
	}
	user = User{
		ID:        userID,
		Phone:     phone,
		Name:      name,
		CreatedAt: s.clock().UTC(),
	}
	createErr := s.db.WithContext(ctx).Create(&user).Error
	if createErr != nil {
		// A concurrent registration for the same phone may have won the
		// insert under the phone's unique index; adopt the surviving row.
		user, err = s.lookupByPhone(ctx, phone)
		if err != nil {
			return User{}, apperrors.StorageUnavailable("user create failed", createErr)
		}
	} else {
		s.logger.Info("user registered",
			zap.String("user_id", user.ID),
			zap.String("phone", phone))
	}

	s.backfillContactLinks(ctx, user)
	return user, nil
}

// Login resolves an existing account by phone. Unknown phones are a
// NotFound, never an implicit registration.
func (s *Service) Login(ctx context.Context, phone string) (User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return User{}, apperrors.InvalidArg("phone is required")
	}

	user, err := s.lookupByPhone(ctx, phone)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperrors.NotFound("no account for this phone")
	}
	if err != nil {
		return User{}, apperrors.StorageUnavailable("user lookup failed", err)
	}

	s.backfillContactLinks(ctx, user)
	return user, nil
}

// GetUser returns the account for an id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, apperrors.InvalidArg("user id is required")
	}

	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperrors.NotFound("unknown user")
	}
	if err != nil {
		return User{}, apperrors.StorageUnavailable("user lookup failed", err)
	}
	return user, nil
}

// AddContact stores an address-book entry for the owner. When a user
// with the contact's phone already exists the entry links to it
// immediately; otherwise the link stays empty until that phone registers.
func (s *Service) AddContact(ctx context.Context, ownerID, contactName, contactPhone string) (Contact, error) {
	ownerID = strings.TrimSpace(ownerID)
	contactName = strings.TrimSpace(contactName)
	contactPhone = strings.TrimSpace(contactPhone)
	if ownerID == "" {
		return Contact{}, apperrors.InvalidArg("owner user id is required")
	}
	if contactPhone == "" {
		return Contact{}, apperrors.InvalidArg("contact phone is required")
	}

	contactID, err := s.idProvider.NewID()
	if err != nil {
		return Contact{}, apperrors.StorageUnavailable("contact id generation failed", err)
	}
	contact := Contact{
		ID:           contactID,
		OwnerUserID:  ownerID,
		ContactName:  contactName,
		ContactPhone: contactPhone,
		CreatedAt:    s.clock().UTC(),
	}

	linked, err := s.lookupByPhone(ctx, contactPhone)
	if err == nil {
		contact.ContactUserID = &linked.ID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Contact{}, apperrors.StorageUnavailable("contact phone lookup failed", err)
	}

	if err := s.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return Contact{}, apperrors.StorageUnavailable("contact create failed", err)
	}
	return contact, nil
}

// ListContacts returns the owner's contacts, newest first.
func (s *Service) ListContacts(ctx context.Context, ownerID string) ([]Contact, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperrors.InvalidArg("owner user id is required")
	}

	contacts := make([]Contact, 0)
	err := s.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Find(&contacts).Error
	if err != nil {
		return nil, apperrors.StorageUnavailable("contact list failed", err)
	}
	return contacts, nil
}

// backfillContactLinks retroactively links every unlinked contact row
// whose phone matches the user. Best-effort: a failure here never fails
// the registration or login that triggered it.
func (s *Service) backfillContactLinks(ctx context.Context, user User) {
	err := s.db.WithContext(ctx).
		Model(&Contact{}).
		Where("contact_phone = ? AND contact_user_id IS NULL", user.Phone).
		Update("contact_user_id", user.ID).Error
	if err != nil {
		s.logger.Warn("contact backfill failed",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}
}

func (s *Service) lookupByPhone(ctx context.Context, phone string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("phone = ?", phone).Take(&user).Error
	return user, err
}
