package services

import (
	"context"
	"log"
	"sync"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
)

// EventSink receives every persisted event, e.g. the websocket hub.
type EventSink interface {
	Publish(entry database.EventLog)
}

// EventLogService persists audit events and fans them out to sinks. Logging
// never fails the caller.
type EventLogService struct {
	db *gorm.DB

	mu    sync.RWMutex
	sinks []EventSink
}

// NewEventLogService creates an event log service
func NewEventLogService(db *gorm.DB) *EventLogService {
	return &EventLogService{db: db}
}

// Subscribe registers a sink
func (s *EventLogService) Subscribe(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Log stores an event
func (s *EventLogService) Log(ctx context.Context, entry database.EventLog) {
	if s == nil {
		return
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Printf("EventLog: Failed to store %s event: %v", entry.Type, err)
		return
	}

	s.mu.RLock()
	sinks := s.sinks
	s.mu.RUnlock()
	for _, sink := range sinks {
		sink.Publish(entry)
	}
}

// Recent returns the latest events, newest first
func (s *EventLogService) Recent(ctx context.Context, limit int, types ...database.EventType) ([]database.EventLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	var events []database.EventLog
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ForDetection returns the audit trail of one detection, oldest first
func (s *EventLogService) ForDetection(ctx context.Context, detectionID uint) ([]database.EventLog, error) {
	var events []database.EventLog
	err := s.db.WithContext(ctx).
		Where("detection_id = ?", detectionID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}
