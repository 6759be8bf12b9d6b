package memory

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrMemoryNotFound = errors.New("memory not found")
	ErrEmptyMemory    = errors.New("memory content is empty")
)

// MemoryService stores the free-text facts a user asked to be remembered
type MemoryService struct {
	db  db.Database
	now func() time.Time
}

// NewMemoryService creates a new MemoryService
func NewMemoryService(database db.Database) *MemoryService {
	return &MemoryService{
		db:  database,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ListMemories returns the user's memories, oldest first
func (s *MemoryService) ListMemories(ctx context.Context, userID string) ([]db.Memory, error) {
	memories := []db.Memory{}
	if _, err := db.LoadJSON(ctx, s.db, userID, db.KeyMemories, &memories); err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	return memories, nil
}

// AddMemory stores a new fact. An identical fact already stored is returned as is.
func (s *MemoryService) AddMemory(ctx context.Context, userID, content string) (db.Memory, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return db.Memory{}, ErrEmptyMemory
	}

	memories, err := s.ListMemories(ctx, userID)
	if err != nil {
		return db.Memory{}, err
	}
	for _, m := range memories {
		if strings.EqualFold(m.Content, content) {
			return m, nil
		}
	}

	memory := db.Memory{
		ID:        uuid.New().String(),
		Content:   content,
		CreatedAt: s.now(),
	}
	memories = append(memories, memory)

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyMemories, memories); err != nil {
		return db.Memory{}, fmt.Errorf("failed to save memory: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":   userID,
		"memory_id": memory.ID,
	}).Info("Memory stored")

	return memory, nil
}

// DeleteMemory forgets one fact
func (s *MemoryService) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	memories, err := s.ListMemories(ctx, userID)
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(memories, func(m db.Memory) bool { return m.ID == memoryID })
	if idx < 0 {
		return fmt.Errorf("memory %s: %w", memoryID, ErrMemoryNotFound)
	}
	memories = slices.Delete(memories, idx, idx+1)

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyMemories, memories); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	return nil
}

// Contents returns just the text of every memory
func Contents(memories []db.Memory) []string {
	out := make([]string, len(memories))
	for i, m := range memories {
		out[i] = m.Content
	}
	return out
}
