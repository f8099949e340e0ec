package chat

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

// HistoryPageCap bounds a single history read. There is no pagination
// cursor beyond this cap.
const HistoryPageCap = 200

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies for the conversation and
// message services.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider identifier.Provider
	Logger     *zap.Logger
}

// Service resolves canonical conversations and owns the append-only
// message log.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider identifier.Provider
	logger     *zap.Logger
}

// NewService constructs the chat service.
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

// Resolve returns the single conversation for the unordered pair
// {userX, userY}, creating it on first contact. Resolve(A, B) and
// Resolve(B, A) yield the same row.
func (s *Service) Resolve(ctx context.Context, userX, userY string) (Conversation, error) {
	userX = strings.TrimSpace(userX)
	userY = strings.TrimSpace(userY)
	if userX == "" || userY == "" {
		return Conversation{}, apperrors.InvalidArg("both user identifiers are required")
	}
	if userX == userY {
		return Conversation{}, apperrors.InvalidArg("a conversation requires two distinct users")
	}

	first, second := orderPair(userX, userY)

	conversation, err := s.lookupPair(ctx, first, second)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, apperrors.StorageUnavailable("conversation lookup failed", err)
	}

	conversationID, err := s.idProvider.NewID()
	if err != nil {
		return Conversation{}, apperrors.StorageUnavailable("conversation id generation failed", err)
	}
	conversation = Conversation{
		ID:        conversationID,
		UserAID:   first,
		UserBID:   second,
		CreatedAt: s.clock().UTC(),
	}
	createErr := s.db.WithContext(ctx).Create(&conversation).Error
	if createErr == nil {
		s.logger.Debug("conversation created",
			zap.String("conversation_id", conversation.ID),
			zap.String("user_a_id", first),
			zap.String("user_b_id", second))
		return conversation, nil
	}

	// A concurrent first contact may have won the insert under the pair's
	// unique index. Exactly one row survives; the loser adopts it.
	conversation, err = s.lookupPair(ctx, first, second)
	if err == nil {
		return conversation, nil
	}
	return Conversation{}, apperrors.StorageUnavailable("conversation create failed", createErr)
}

// Append persists a message to a conversation and returns the canonical
// record. Text must be non-empty after trimming. Append is all-or-nothing.
func (s *Service) Append(ctx context.Context, conversationID, senderID, recipientID, text string) (Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	senderID = strings.TrimSpace(senderID)
	recipientID = strings.TrimSpace(recipientID)
	trimmedText := strings.TrimSpace(text)

	if conversationID == "" || senderID == "" || recipientID == "" {
		return Message{}, apperrors.InvalidArg("conversation, sender and recipient identifiers are required")
	}
	if trimmedText == "" {
		return Message{}, apperrors.InvalidArg("message text must not be empty")
	}

	message := Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Text:           trimmedText,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logger.Error("message append failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return Message{}, apperrors.StorageUnavailable("message append failed", err)
	}
	return message, nil
}

// History returns a conversation's messages ascending by id, capped at
// HistoryPageCap, each annotated with the viewer-relative direction. An
// unknown conversation id yields an empty slice, not an error.
func (s *Service) History(ctx context.Context, conversationID, viewerID string, limit int) ([]DirectedMessage, error) {
	conversationID = strings.TrimSpace(conversationID)
	viewerID = strings.TrimSpace(viewerID)
	if conversationID == "" || viewerID == "" {
		return nil, apperrors.InvalidArg("conversation and viewer identifiers are required")
	}
	if limit <= 0 || limit > HistoryPageCap {
		limit = HistoryPageCap
	}

	var messages []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, apperrors.StorageUnavailable("history read failed", err)
	}

	directed := make([]DirectedMessage, 0, len(messages))
	for _, message := range messages {
		directed = append(directed, DirectedMessage{
			Message:   message,
			Direction: directionFor(message, viewerID),
		})
	}
	return directed, nil
}

// HistoryBetween returns the viewer's history with another user. Absence
// of a conversation is a normal outcome and yields an empty slice; the
// thread is never created by a read.
func (s *Service) HistoryBetween(ctx context.Context, viewerID, otherUserID string, limit int) ([]DirectedMessage, error) {
	viewerID = strings.TrimSpace(viewerID)
	otherUserID = strings.TrimSpace(otherUserID)
	if viewerID == "" || otherUserID == "" {
		return nil, apperrors.InvalidArg("viewer and other user identifiers are required")
	}

	first, second := orderPair(viewerID, otherUserID)
	conversation, err := s.lookupPair(ctx, first, second)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []DirectedMessage{}, nil
	}
	if err != nil {
		return nil, apperrors.StorageUnavailable("conversation lookup failed", err)
	}
	return s.History(ctx, conversation.ID, viewerID, limit)
}

func (s *Service) lookupPair(ctx context.Context, first, second string) (Conversation, error) {
	var conversation Conversation
	err := s.db.WithContext(ctx).
		Where("user_a_id = ? AND user_b_id = ?", first, second).
		Take(&conversation).Error
	return conversation, err
}

func directionFor(message Message, viewerID string) Direction {
	if message.SenderID == viewerID {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

func orderPair(userX, userY string) (string, string) {
	if strings.Compare(userX, userY) <= 0 {
		return userX, userY
	}
	return userY, userX
}
