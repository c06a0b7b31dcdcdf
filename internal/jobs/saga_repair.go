package jobs

import (
	"context"
	"log"
	"time"
)

// Repairer re-runs the downstream saga of incomplete detections
type Repairer interface {
	RepairIncomplete(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// SagaRepairJob periodically completes detections whose alert, financial
// risk or investigation is missing
type SagaRepairJob struct {
	repairer Repairer
	grace    time.Duration
	limit    int
}

// NewSagaRepairJob creates a repair job. Detections younger than grace are
// left to the analysis that created them.
func NewSagaRepairJob(repairer Repairer, grace time.Duration, limit int) *SagaRepairJob {
	if limit <= 0 {
		limit = 100
	}
	return &SagaRepairJob{repairer: repairer, grace: grace, limit: limit}
}

// Run executes one repair pass and returns the number of repaired detections
func (j *SagaRepairJob) Run(ctx context.Context) (int, error) {
	repaired, err := j.repairer.RepairIncomplete(ctx, j.grace, j.limit)
	if err != nil {
		log.Printf("SagaRepairJob: Repair pass finished with errors: %v", err)
	}
	return repaired, err
}

// Start runs a repair pass every interval until ctx is cancelled
func (j *SagaRepairJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Run(ctx)
		case <-ctx.Done():
			log.Println("SagaRepairJob: Stopped")
			return
		}
	}
}
