package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker reports row progress of a long-running load stage. It logs
// at most once per interval, plus once on completion.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	batches     int
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting operation")

	return tracker
}

// BatchCommitted records a committed batch of n rows
func (p *ProgressTracker) BatchCommitted(n int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += int64(n)
	p.batches++

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(p.finalFields()).Info("Operation completed")
}

// CompleteWithError logs final statistics with the error that stopped the stage
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithError(err).WithFields(p.finalFields()).Error("Operation completed with error")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}

	var percentage float64
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}

	return ProgressStats{
		Operation:  p.operation,
		Total:      p.total,
		Current:    p.current,
		Batches:    p.batches,
		Percentage: percentage,
		Duration:   duration,
		Rate:       rate,
	}
}

func (p *ProgressTracker) finalFields() Fields {
	duration := time.Since(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}
	return Fields{
		"operation": p.operation,
		"total":     p.total,
		"processed": p.current,
		"batches":   p.batches,
		"duration":  duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", rate),
	}
}

func (p *ProgressTracker) logProgress(now time.Time) {
	duration := now.Sub(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}

	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"batches":   p.batches,
		"rate":      fmt.Sprintf("%.2f/sec", rate),
	}

	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
		if p.current > 0 && rate > 0 {
			remaining := p.total - p.current
			fields["eta"] = (time.Duration(float64(remaining)/rate) * time.Second).String()
		}
	}

	p.logger.WithFields(fields).Info("Progress update")
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Batches    int           `json:"batches"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
}

func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) in %d batches at %.2f/sec",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Batches, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed in %d batches at %.2f/sec",
		ps.Operation, ps.Current, ps.Batches, ps.Rate)
}

// TimedStage runs fn and logs its outcome and duration under the stage name
func TimedStage(stage string, logger Logger, fn func() error) error {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	log := logger.WithField("stage", stage)
	log.Info("Stage started")

	start := time.Now()
	err := fn()
	fields := Fields{"duration": time.Since(start).String()}

	if err != nil {
		log.WithError(err).WithFields(fields).Error("Stage failed")
	} else {
		log.WithFields(fields).Info("Stage completed")
	}
	return err
}
