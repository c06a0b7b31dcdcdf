package services

import (
	"context"
	"testing"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
	"github.com/minewatch/minewatch/internal/testhelpers"
)

func createRisk(t *testing.T, e *env, loss float64, level models.Severity) database.FinancialRisk {
	t.Helper()
	_, det := testhelpers.CreateDetectionChain(t, e.db, e.region.ID)
	fr := database.FinancialRisk{
		DetectionID:   det.ID,
		AreaHectares:  det.AreaHectares,
		EstimatedLoss: loss,
		RiskLevel:     level,
	}
	testhelpers.MustCreate(t, e.db, &fr)
	return fr
}

func TestFinancialRiskService_List(t *testing.T) {
	e := newEnv(t, nil)
	svc := NewFinancialRiskService(e.db)
	small := createRisk(t, e, 120000, models.SeverityLow)
	large := createRisk(t, e, 9000000, models.SeverityCritical)
	medium := createRisk(t, e, 2500000, models.SeverityMedium)

	rows, total, err := svc.List(context.Background(), "", 0, 10)
	testhelpers.AssertNoError(t, err, "list")
	testhelpers.AssertEqual(t, int64(3), total, "total")
	if len(rows) != 3 || rows[0].ID != large.ID || rows[1].ID != medium.ID || rows[2].ID != small.ID {
		t.Errorf("expected costliest first, got %+v", rows)
	}

	rows, total, err = svc.List(context.Background(), models.SeverityLow, 0, 10)
	testhelpers.AssertNoError(t, err, "list by level")
	testhelpers.AssertEqual(t, int64(1), total, "low total")
	if len(rows) != 1 || rows[0].ID != small.ID {
		t.Errorf("expected only risk %d, got %+v", small.ID, rows)
	}

	_, _, err = svc.List(context.Background(), "SEVERE", 0, 10)
	if !IsValidation(err) {
		t.Errorf("expected validation error for unknown level, got %v", err)
	}
}

func TestFinancialRiskService_HighImpact(t *testing.T) {
	e := newEnv(t, nil)
	svc := NewFinancialRiskService(e.db)

	empty, err := svc.HighImpact(context.Background())
	testhelpers.AssertNoError(t, err, "empty")
	testhelpers.AssertEqual(t, 0, empty.Count, "empty count")
	if empty.Results == nil {
		t.Error("expected an empty result list, got nil")
	}

	createRisk(t, e, 499999, models.SeverityLow)
	atThreshold := createRisk(t, e, HighImpactLoss, models.SeverityLow)
	largest := createRisk(t, e, 7500000, models.SeverityHigh)

	got, err := svc.HighImpact(context.Background())
	testhelpers.AssertNoError(t, err, "high impact")
	testhelpers.AssertEqual(t, 2, got.Count, "count")
	if !approx(got.TotalEstimatedLoss, 8000000) {
		t.Errorf("total = %f, want 8000000", got.TotalEstimatedLoss)
	}
	if got.Results[0].ID != largest.ID || got.Results[1].ID != atThreshold.ID {
		t.Errorf("expected [%d %d], got %+v", largest.ID, atThreshold.ID, got.Results)
	}
}
