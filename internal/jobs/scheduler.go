package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/minewatch/minewatch/internal/services"
)

// Analyzer runs one analysis
type Analyzer interface {
	Run(ctx context.Context, req services.RunRequest) (*services.RunResult, error)
}

// SchedulerConfig holds the cron specs. An empty spec disables the job.
type SchedulerConfig struct {
	ScanSchedule       string
	AnalysisSchedule   string
	AnalysisMonthsBack int
	JobTimeout         time.Duration
}

// Scheduler runs the scan and analysis jobs on cron schedules
type Scheduler struct {
	cron     *cron.Cron
	cfg      SchedulerConfig
	scan     *ScanJob
	analyzer Analyzer

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg SchedulerConfig, scan *ScanJob, analyzer Analyzer) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		cfg:      cfg,
		scan:     scan,
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the enabled jobs and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ScanSchedule != "" && s.scan != nil {
		if _, err := s.cron.AddFunc(s.cfg.ScanSchedule, s.RunScan); err != nil {
			return err
		}
		log.Printf("Scheduler: Scan job scheduled (cron: %s)", s.cfg.ScanSchedule)
	}
	if s.cfg.AnalysisSchedule != "" && s.analyzer != nil {
		if _, err := s.cron.AddFunc(s.cfg.AnalysisSchedule, s.RunAnalysis); err != nil {
			return err
		}
		log.Printf("Scheduler: Analysis job scheduled (cron: %s, %d month(s))", s.cfg.AnalysisSchedule, s.cfg.AnalysisMonthsBack)
	}

	if len(s.cron.Entries()) == 0 {
		log.Println("Scheduler: No scheduled jobs are enabled")
		return nil
	}
	s.cron.Start()
	s.isRunning = true
	return nil
}

// Stop stops the cron runner, cancels running jobs and waits for them
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if s.isRunning {
		<-s.cron.Stop().Done()
		s.isRunning = false
		log.Println("Scheduler: Stopped")
	}
}

// RunScan executes the scan job once
func (s *Scheduler) RunScan() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	log.Println("Scheduler: Starting scan job...")
	if _, err := s.scan.Run(ctx); err != nil {
		log.Printf("Scheduler: Scan job failed: %v", err)
	}
}

// RunAnalysis executes the analysis job once
func (s *Scheduler) RunAnalysis() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	log.Println("Scheduler: Starting analysis job...")
	result, err := s.analyzer.Run(ctx, services.RunRequest{MonthsBack: s.cfg.AnalysisMonthsBack})
	if err != nil {
		log.Printf("Scheduler: Analysis job rejected: %v", err)
		return
	}
	if !result.Success {
		log.Printf("Scheduler: Analysis job failed: %v", result.Errors)
	}
}
