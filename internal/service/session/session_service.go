package session

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTitle is given to a session until its first message arrives
const DefaultTitle = "New Chat"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

// SessionService owns the session list of every user. Reads are served from
// an in-memory cache; mutations are applied to the cache, then persisted as
// one document under db.KeyChatSessions, and rolled back if the write fails.
type SessionService struct {
	db    db.Database
	mu    sync.Mutex
	cache map[string][]db.ChatSession
	now   func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(database db.Database) *SessionService {
	return &SessionService{
		db:    database,
		cache: make(map[string][]db.ChatSession),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListSessions returns the user's sessions, most recently updated first
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]db.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := cloneSessions(sessions)
	slices.SortStableFunc(result, func(a, b db.ChatSession) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return result, nil
}

// RefetchSessions drops the cached list and reloads it from storage
func (s *SessionService) RefetchSessions(ctx context.Context, userID string) ([]db.ChatSession, error) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()

	return s.ListSessions(ctx, userID)
}

// GetSession returns one session with its messages in conversation order
func (s *SessionService) GetSession(ctx context.Context, userID, sessionID string) (*db.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	idx := indexOf(sessions, sessionID)
	if idx < 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	session := cloneSession(sessions[idx])
	return &session, nil
}

// CreateSession returns the most recently created session when it is still
// an empty draft, otherwise it creates and persists a new one.
func (s *SessionService) CreateSession(ctx context.Context, userID string) (*db.ChatSession, bool, error) {
	var (
		result  db.ChatSession
		created bool
	)

	err := s.mutate(ctx, userID, func(sessions []db.ChatSession) ([]db.ChatSession, error) {
		if latest := latestCreated(sessions); latest >= 0 && len(sessions[latest].Messages) == 0 {
			result = sessions[latest]
			return nil, nil
		}

		now := s.now()
		result = db.ChatSession{
			ID:        uuid.New().String(),
			Title:     DefaultTitle,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []db.ChatMessage{},
		}
		created = true
		return append(sessions, result), nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		logger.Log.WithFields(logrus.Fields{
			"user_id":    userID,
			"session_id": result.ID,
		}).Info("Session created")
	}

	result = cloneSession(result)
	return &result, created, nil
}

// AddMessageToSession merges msg into the session by id: an existing message
// with the same id is overlaid, otherwise msg is appended. The first message
// of a session sets its title to the human input.
func (s *SessionService) AddMessageToSession(ctx context.Context, userID, sessionID string, msg db.ChatMessage) (*db.ChatSession, error) {
	var result db.ChatSession

	err := s.mutate(ctx, userID, func(sessions []db.ChatSession) ([]db.ChatSession, error) {
		idx := indexOf(sessions, sessionID)
		if idx < 0 {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}

		session := &sessions[idx]
		if len(session.Messages) == 0 && msg.RawHuman != "" {
			session.Title = msg.RawHuman
		}

		msg.SessionID = sessionID
		session.Messages = MergeMessage(session.Messages, msg)
		session.UpdatedAt = s.now()

		result = *session
		return sessions, nil
	})
	if err != nil {
		return nil, err
	}

	result = cloneSession(result)
	return &result, nil
}

// RemoveMessage deletes one message. A session left without messages is
// removed from the list; the returned bool reports that.
func (s *SessionService) RemoveMessage(ctx context.Context, userID, sessionID, messageID string) (bool, error) {
	var sessionRemoved bool

	err := s.mutate(ctx, userID, func(sessions []db.ChatSession) ([]db.ChatSession, error) {
		idx := indexOf(sessions, sessionID)
		if idx < 0 {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}

		session := &sessions[idx]
		before := len(session.Messages)
		session.Messages = slices.DeleteFunc(session.Messages, func(m db.ChatMessage) bool {
			return m.ID == messageID
		})
		if len(session.Messages) == before {
			return nil, fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
		}

		if len(session.Messages) == 0 {
			sessionRemoved = true
			return slices.Delete(sessions, idx, idx+1), nil
		}

		session.UpdatedAt = s.now()
		return sessions, nil
	})

	return sessionRemoved, err
}

// RemoveSessionByID deletes a session and all of its messages
func (s *SessionService) RemoveSessionByID(ctx context.Context, userID, sessionID string) error {
	err := s.mutate(ctx, userID, func(sessions []db.ChatSession) ([]db.ChatSession, error) {
		idx := indexOf(sessions, sessionID)
		if idx < 0 {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return slices.Delete(sessions, idx, idx+1), nil
	})
	if err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
	}).Info("Session removed")
	return nil
}

// RenameSession replaces the session title
func (s *SessionService) RenameSession(ctx context.Context, userID, sessionID, title string) (*db.ChatSession, error) {
	var result db.ChatSession

	err := s.mutate(ctx, userID, func(sessions []db.ChatSession) ([]db.ChatSession, error) {
		idx := indexOf(sessions, sessionID)
		if idx < 0 {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		sessions[idx].Title = title
		sessions[idx].UpdatedAt = s.now()
		result = sessions[idx]
		return sessions, nil
	})
	if err != nil {
		return nil, err
	}

	result = cloneSession(result)
	return &result, nil
}

// MergeMessage overlays msg onto the message with the same id, or appends it
func MergeMessage(messages []db.ChatMessage, msg db.ChatMessage) []db.ChatMessage {
	for i := range messages {
		if messages[i].ID == msg.ID {
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = messages[i].CreatedAt
			}
			messages[i] = msg
			return messages
		}
	}
	return append(messages, msg)
}

// mutate applies fn to a copy of the cached list. A nil list from fn means
// nothing changed. The new list is cached before it is written; a failed
// write restores the previous list.
func (s *SessionService) mutate(ctx context.Context, userID string, fn func([]db.ChatSession) ([]db.ChatSession, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	next, err := fn(cloneSessions(previous))
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	s.cache[userID] = next
	if err := db.SaveJSON(ctx, s.db, userID, db.KeyChatSessions, next); err != nil {
		s.cache[userID] = previous
		logger.Log.WithFields(logrus.Fields{"user_id": userID}).WithError(err).Error("Failed to persist sessions, rolled back")
		return fmt.Errorf("failed to persist sessions: %w", err)
	}

	return nil
}

// load returns the cached list, reading it from storage on a miss.
// Callers hold s.mu.
func (s *SessionService) load(ctx context.Context, userID string) ([]db.ChatSession, error) {
	if sessions, ok := s.cache[userID]; ok {
		return sessions, nil
	}

	sessions := []db.ChatSession{}
	if _, err := db.LoadJSON(ctx, s.db, userID, db.KeyChatSessions, &sessions); err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	s.cache[userID] = sessions
	return sessions, nil
}

func indexOf(sessions []db.ChatSession, sessionID string) int {
	return slices.IndexFunc(sessions, func(s db.ChatSession) bool {
		return s.ID == sessionID
	})
}

func latestCreated(sessions []db.ChatSession) int {
	latest := -1
	for i := range sessions {
		if latest < 0 || !sessions[i].CreatedAt.Before(sessions[latest].CreatedAt) {
			latest = i
		}
	}
	return latest
}

func cloneSessions(sessions []db.ChatSession) []db.ChatSession {
	out := make([]db.ChatSession, len(sessions))
	for i := range sessions {
		out[i] = cloneSession(sessions[i])
	}
	return out
}

func cloneSession(session db.ChatSession) db.ChatSession {
	messages := make([]db.ChatMessage, len(session.Messages))
	for i, m := range session.Messages {
		if m.Tools != nil {
			m.Tools = slices.Clone(m.Tools)
		}
		if m.InputProps != nil {
			props := *m.InputProps
			m.InputProps = &props
		}
		messages[i] = m
	}
	session.Messages = messages
	return session
}
