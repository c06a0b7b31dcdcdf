package services

import (
	"context"
	"math"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
)

const highConfidenceFeedback = 0.8

// TrainingData is the feedback not yet consumed by model training.
type TrainingData struct {
	Count              int                          `json:"count"`
	ConfirmedCount     int                          `json:"confirmed_count"`
	FalsePositiveCount int                          `json:"false_positive_count"`
	Feedbacks          []database.DetectionFeedback `json:"training_data"`
}

// AccuracyStats summarises field feedback against model confidence.
type AccuracyStats struct {
	TotalEvaluations       int64    `json:"total_evaluations"`
	ConfirmedDetections    int64    `json:"confirmed_detections"`
	FalsePositives         int64    `json:"false_positives"`
	OverallAccuracy        float64  `json:"overall_accuracy"`
	HighConfidenceAccuracy float64  `json:"high_confidence_accuracy"`
	Recommendations        []string `json:"recommendations"`
}

// FeedbackService reads the closed-loop feedback records
type FeedbackService struct {
	db *gorm.DB
}

// NewFeedbackService creates a feedback service
func NewFeedbackService(db *gorm.DB) *FeedbackService {
	return &FeedbackService{db: db}
}

// TrainingData returns the feedback with used_for_training unset
func (s *FeedbackService) TrainingData(ctx context.Context) (*TrainingData, error) {
	var rows []database.DetectionFeedback
	if err := s.db.WithContext(ctx).
		Where("used_for_training = ?", false).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := &TrainingData{Count: len(rows), Feedbacks: rows}
	for _, f := range rows {
		if f.GroundTruthConfirmed {
			out.ConfirmedCount++
		} else {
			out.FalsePositiveCount++
		}
	}
	return out, nil
}

// MarkUsedForTraining flags feedback records as consumed. It is the only
// mutation a feedback record accepts.
func (s *FeedbackService) MarkUsedForTraining(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&database.DetectionFeedback{}).
		Where("id IN ? AND used_for_training = ?", ids, false).
		Update("used_for_training", true)
	return res.RowsAffected, res.Error
}

// AccuracyStats computes overall and high-confidence accuracy. It returns
// nil when there is no feedback yet.
func (s *FeedbackService) AccuracyStats(ctx context.Context) (*AccuracyStats, error) {
	var row struct {
		Total         int64
		Confirmed     int64
		HighTotal     int64
		HighConfirmed int64
	}
	err := s.db.WithContext(ctx).Model(&database.DetectionFeedback{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN ground_truth_confirmed THEN 1 ELSE 0 END), 0) AS confirmed,
			COALESCE(SUM(CASE WHEN original_confidence >= ? THEN 1 ELSE 0 END), 0) AS high_total,
			COALESCE(SUM(CASE WHEN original_confidence >= ? AND ground_truth_confirmed THEN 1 ELSE 0 END), 0) AS high_confirmed`,
			highConfidenceFeedback, highConfidenceFeedback).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Total == 0 {
		return nil, nil
	}

	stats := &AccuracyStats{
		TotalEvaluations:    row.Total,
		ConfirmedDetections: row.Confirmed,
		FalsePositives:      row.Total - row.Confirmed,
		OverallAccuracy:     percent(row.Confirmed, row.Total),
	}
	if row.HighTotal > 0 {
		stats.HighConfidenceAccuracy = percent(row.HighConfirmed, row.HighTotal)
	}
	stats.Recommendations = recommendations(stats.OverallAccuracy, stats.HighConfidenceAccuracy)
	return stats, nil
}

func percent(n, total int64) float64 {
	return math.Round(float64(n)/float64(total)*10000) / 100
}

func recommendations(overall, highConf float64) []string {
	out := []string{}
	if overall < 70 {
		out = append(out, "Low overall accuracy: adjust detection thresholds")
	}
	if highConf > 90 {
		out = append(out, "High-confidence detections are reliable: automate detections above 0.8")
	}
	if overall > 85 {
		out = append(out, "System is performing well: ready for wider deployment")
	}
	return out
}
