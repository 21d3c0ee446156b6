// Package backfill replays webhook envelopes stored as JSON files through the
// same ingestion logic the HTTP routes use.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
	"github.com/AnshRaj112/chatrelay-backend/pkg/metrics"
)

// Outcome of one file.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Kind of envelope a file carried.
const (
	KindMessage = "message"
	KindStatus  = "status"
)

// FileResult describes what happened to one file.
type FileResult struct {
	Path     string
	Outcome  Outcome
	Kind     string
	Reason   string
	Message  *models.Message
	Statuses []services.StatusOutcome
	Err      error
}

// Summary totals a directory run.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Results   []FileResult
}

func (s *Summary) add(r FileResult) {
	switch r.Outcome {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Processor applies envelope files to an IngestionService.
type Processor struct {
	svc *services.IngestionService
	log *logger.Logger

	// Debounce is how long watch mode waits after the last write to a file
	// before processing it.
	Debounce time.Duration
}

func NewProcessor(svc *services.IngestionService, log *logger.Logger) *Processor {
	return &Processor{svc: svc, log: log, Debounce: 250 * time.Millisecond}
}

func isEnvelopeFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// ProcessFile applies one envelope. Files carrying statuses apply every
// status; otherwise the first message is stored.
func (p *Processor) ProcessFile(ctx context.Context, path string) (res FileResult) {
	res = FileResult{Path: path}
	defer func() {
		metrics.BackfillFilesTotal.WithLabelValues(string(res.Outcome)).Inc()
	}()

	raw, err := os.ReadFile(path)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	env, err := services.DecodeEnvelope(raw)
	switch {
	case errors.Is(err, services.ErrMalformedPayload):
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	case err != nil:
		res.Outcome, res.Reason = OutcomeSkipped, err.Error()
		return res
	}

	value := env.MetaData.Entry[0].Changes[0].Value
	switch {
	case len(value.Statuses) > 0:
		res.Kind = KindStatus
		res.Statuses = p.svc.ApplyStatusEnvelope(ctx, env)
		res.Outcome = OutcomeProcessed
	case len(value.Messages) > 0:
		res.Kind = KindMessage
		msg, err := p.svc.IngestMessageEnvelope(ctx, env)
		switch {
		case err == nil:
			res.Outcome, res.Message = OutcomeProcessed, msg
		case services.KindOf(err) == services.KindValidation:
			res.Outcome, res.Reason = OutcomeSkipped, err.Error()
		default:
			res.Outcome, res.Err = OutcomeFailed, err
		}
	default:
		res.Outcome, res.Reason = OutcomeSkipped, "no messages or statuses found"
	}
	return res
}

// ProcessDir applies every *.json file in dir in name order. Other files are ignored.
func (p *Processor) ProcessDir(ctx context.Context, dir string) (*Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read payload directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isEnvelopeFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	summary := &Summary{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res := p.ProcessFile(ctx, filepath.Join(dir, name))
		p.logResult(res)
		summary.add(res)
	}
	return summary, nil
}

func (p *Processor) logResult(res FileResult) {
	file := zap.String("file", filepath.Base(res.Path))
	switch res.Outcome {
	case OutcomeProcessed:
		if res.Message != nil {
			p.log.Info("message processed", file, zap.String("msg_id", res.Message.MsgID), zap.String("name", res.Message.Name))
		}
		for _, s := range res.Statuses {
			if s.Outcome == services.OutcomeUpdated {
				p.log.Info("status updated", file, zap.String("msg_id", s.MsgID), zap.String("status", s.Status))
			} else {
				p.log.Warn("status skipped", file, zap.String("msg_id", s.MsgID), zap.String("outcome", s.Outcome))
			}
		}
	case OutcomeSkipped:
		p.log.Warn("file skipped", file, zap.String("reason", res.Reason))
	default:
		p.log.Error("file failed", file, zap.Error(res.Err))
	}
}

// Watch processes *.json files created or rewritten in dir until ctx ends.
// Each file is handled once its writes have settled for Debounce.
func (p *Processor) Watch(ctx context.Context, dir string, onResult func(FileResult)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	p.log.Info("watching for payload files", zap.String("dir", dir))

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for path, t := range pending {
			if t.Stop() {
				wg.Done()
			}
			delete(pending, path)
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		var timer *time.Timer
		timer = time.AfterFunc(p.Debounce, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == timer {
				delete(pending, path)
			}
			mu.Unlock()

			res := p.ProcessFile(ctx, path)
			p.logResult(res)
			if onResult != nil {
				onResult(res)
			}
		})
		pending[path] = timer
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isEnvelopeFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("watcher error", zap.Error(err))
		}
	}
}
