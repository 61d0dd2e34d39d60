package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/persona-chat-go/internal/config"
	"github.com/persona-chat-go/internal/middleware"
	"github.com/persona-chat-go/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const titleMaxLen = 60

// Store persists conversations and their ordered messages. A
// conversation owns its messages; deleting one cascades to the other.
type Store interface {
	AppendExchange(ctx context.Context, userID, persona, userMessage, assistantMessage string) (*models.Conversation, error)
	History(ctx context.Context, userID, persona string, limit int) ([]models.Message, error)
	List(ctx context.Context, userID string) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error)
	Delete(ctx context.Context, conversationID string) error
}

// Open connects to MySQL and migrates the conversation tables.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.AutoMigrate(&models.Conversation{}, &models.ChatMessage{}); err != nil {
		return nil, err
	}

	return db, nil
}

// GormStore implements Store on a relational database.
type GormStore struct {
	db      *gorm.DB
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewGormStore creates a store over an open database handle.
func NewGormStore(db *gorm.DB, metrics *middleware.Metrics, logger *logrus.Logger) *GormStore {
	return &GormStore{db: db, metrics: metrics, logger: logger}
}

// AppendExchange appends one user turn and one assistant turn to the
// conversation identified by (userID, persona), creating the
// conversation first if absent. Both messages land in one transaction.
func (s *GormStore) AppendExchange(ctx context.Context, userID, persona, userMessage, assistantMessage string) (*models.Conversation, error) {
	start := time.Now()

	var conv models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND persona = ?", userID, persona).First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conv = models.Conversation{
				ID:      uuid.NewString(),
				UserID:  userID,
				Persona: persona,
				Title:   makeTitle(userMessage),
			}
			if err := tx.Create(&conv).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		now := time.Now()
		turns := []models.ChatMessage{
			{ConversationID: conv.ID, Role: "user", Content: userMessage, CreatedAt: now},
			{ConversationID: conv.ID, Role: "assistant", Content: assistantMessage, CreatedAt: now.Add(time.Millisecond)},
		}
		if err := tx.Create(&turns).Error; err != nil {
			return err
		}

		return tx.Model(&conv).Update("updated_at", now).Error
	})

	if err != nil {
		s.metrics.RecordStorageOperation("append_exchange", "error", time.Since(start))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"persona": persona,
		}).Error("Failed to persist exchange")
		return nil, err
	}

	s.metrics.RecordStorageOperation("append_exchange", "success", time.Since(start))
	return &conv, nil
}

// History returns the most recent turns of a (userID, persona)
// conversation in chronological order, ready for prompt compilation.
// A missing conversation is an empty history, not an error.
func (s *GormStore) History(ctx context.Context, userID, persona string, limit int) ([]models.Message, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Where("user_id = ? AND persona = ?", userID, persona).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stored []models.ChatMessage
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&stored).Error; err != nil {
		return nil, err
	}

	// Reverse back into chronological order.
	history := make([]models.Message, len(stored))
	for i, msg := range stored {
		history[len(stored)-1-i] = models.Message{Role: msg.Role, Content: msg.Content}
	}
	return history, nil
}

// List returns a user's conversations, most recently updated first.
func (s *GormStore) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// Messages returns the ordered messages of one conversation.
func (s *GormStore) Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Delete removes a conversation and, through the cascade constraint,
// all of its messages.
func (s *GormStore) Delete(ctx context.Context, conversationID string) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Delete(&models.Conversation{ID: conversationID}).Error
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordStorageOperation("delete", status, time.Since(start))
	return err
}

func makeTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleMaxLen {
		return message
	}
	return string(runes[:titleMaxLen]) + "..."
}
