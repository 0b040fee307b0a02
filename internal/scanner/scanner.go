// Package scanner drives the batch face-detection pipeline: it drains
// the scan queue, runs detection, and records the results. The work is
// resumable because every finished picture gets a scan record; an
// interrupted run simply leaves the rest in the queue.
package scanner

import (
	"context"
	"errors"
	"sync"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/kozaktomas/photo-faces/internal/detect"
	"github.com/kozaktomas/photo-faces/internal/people"
)

// Detector produces face observations for one picture. The production
// implementation is the HTTP client in the detect package.
type Detector interface {
	Detect(ctx context.Context, target people.ScanTarget) ([]people.Observation, error)
}

// Report summarizes one scanner run.
type Report struct {
	Scanned int // pictures recorded with a successful scan
	Broken  int // pictures recorded as unreadable
	Failed  int // pictures left in the queue after a transient failure
	Faces   int // total faces stored
}

// Scanner runs face detection over the scan queue.
type Scanner struct {
	repo        *people.Repository
	detector    Detector
	log         *zap.Logger
	concurrency int
	progress    bool
}

// New creates a scanner. Concurrency bounds the number of in-flight
// detection calls; writes are serialized by the repository itself.
func New(repo *people.Repository, detector Detector, log *zap.Logger, concurrency int) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{
		repo:        repo,
		detector:    detector,
		log:         log,
		concurrency: concurrency,
	}
}

// ShowProgress enables a terminal progress bar for interactive runs.
func (s *Scanner) ShowProgress(enabled bool) {
	s.progress = enabled
}

// Run drains the scan queue once. Detection for different pictures runs
// concurrently, but the detector always finishes before the repository
// lock is taken, so no database lock is ever held across a detection
// call. Cancelling the context stops dispatching new pictures; pictures
// already being processed finish their writes.
func (s *Scanner) Run(ctx context.Context, limit int) (Report, error) {
	targets, err := s.repo.FindNeedFaceScan()
	if err != nil {
		return Report{}, err
	}
	if limit > 0 && len(targets) > limit {
		targets = targets[:limit]
	}

	s.log.Info("starting face scan",
		zap.Int("pictures", len(targets)),
		zap.Int("concurrency", s.concurrency),
	)

	var bar *progressbar.ProgressBar
	if s.progress {
		bar = progressbar.NewOptions(len(targets),
			progressbar.OptionSetDescription("Scanning faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	var report Report
	var mu sync.Mutex

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(target people.ScanTarget) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// A cancel while we waited on the semaphore leaves the picture
			// in the queue for the next run.
			if ctx.Err() != nil {
				if bar != nil {
					bar.Add(1)
				}
				return
			}

			outcome := s.scanOne(ctx, target)

			mu.Lock()
			switch outcome.kind {
			case outcomeScanned:
				report.Scanned++
				report.Faces += outcome.faces
			case outcomeBroken:
				report.Broken++
			case outcomeFailed:
				report.Failed++
			}
			mu.Unlock()

			if bar != nil {
				bar.Add(1)
			}
		}(target)
	}

	wg.Wait()

	s.log.Info("face scan finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("broken", report.Broken),
		zap.Int("failed", report.Failed),
		zap.Int("faces", report.Faces),
	)

	return report, ctx.Err()
}

type outcomeKind int

const (
	outcomeScanned outcomeKind = iota
	outcomeBroken
	outcomeFailed
)

type outcome struct {
	kind  outcomeKind
	faces int
}

// scanOne detects and records a single picture.
func (s *Scanner) scanOne(ctx context.Context, target people.ScanTarget) outcome {
	observations, err := s.detector.Detect(ctx, target)
	if errors.Is(err, detect.ErrUnreadableImage) {
		if err := s.repo.MarkFaceScanBroken(target.PictureID); err != nil {
			s.log.Error("failed to mark picture broken",
				zap.Int64("picture_id", int64(target.PictureID)),
				zap.Error(err),
			)
			return outcome{kind: outcomeFailed}
		}
		s.log.Warn("picture is unreadable, marked broken",
			zap.Int64("picture_id", int64(target.PictureID)),
			zap.String("path", target.Path),
		)
		return outcome{kind: outcomeBroken}
	}
	if err != nil {
		s.log.Error("detection failed, picture stays in queue",
			zap.Int64("picture_id", int64(target.PictureID)),
			zap.Error(err),
		)
		return outcome{kind: outcomeFailed}
	}

	if err := s.repo.AddFaceScans(target.PictureID, observations); err != nil {
		s.log.Error("failed to record face scan",
			zap.Int64("picture_id", int64(target.PictureID)),
			zap.Error(err),
		)
		return outcome{kind: outcomeFailed}
	}

	return outcome{kind: outcomeScanned, faces: len(observations)}
}
