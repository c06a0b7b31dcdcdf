package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
)

// HighImpactLoss is the estimated loss in FCFA from which a risk counts as
// high impact.
const HighImpactLoss = 500000.0

// HighImpactRisks is the high impact listing with its aggregate loss.
type HighImpactRisks struct {
	Count              int                      `json:"count"`
	TotalEstimatedLoss float64                  `json:"total_estimated_loss"`
	Results            []database.FinancialRisk `json:"results"`
}

// FinancialRiskService reads the financial risk assessments
type FinancialRiskService struct {
	db *gorm.DB
}

// NewFinancialRiskService creates a financial risk service
func NewFinancialRiskService(db *gorm.DB) *FinancialRiskService {
	return &FinancialRiskService{db: db}
}

// List returns one page of risks, costliest first, optionally restricted to
// one risk level.
func (s *FinancialRiskService) List(ctx context.Context, level models.Severity, offset, limit int) ([]database.FinancialRisk, int64, error) {
	if level != "" && !level.Valid() {
		return nil, 0, invalid("risk_level", "must be one of: LOW MEDIUM HIGH CRITICAL")
	}
	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&database.FinancialRisk{})
		if level != "" {
			q = q.Where("risk_level = ?", level)
		}
		return q
	}
	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []database.FinancialRisk
	err := filtered().Order("estimated_loss DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// HighImpact lists every risk with an estimated loss of at least
// HighImpactLoss and sums their losses.
func (s *FinancialRiskService) HighImpact(ctx context.Context) (*HighImpactRisks, error) {
	var rows []database.FinancialRisk
	err := s.db.WithContext(ctx).
		Where("estimated_loss >= ?", HighImpactLoss).
		Order("estimated_loss DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := &HighImpactRisks{Count: len(rows), Results: rows}
	for _, r := range rows {
		out.TotalEstimatedLoss += r.EstimatedLoss
	}
	if out.Results == nil {
		out.Results = []database.FinancialRisk{}
	}
	return out, nil
}
