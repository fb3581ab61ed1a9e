package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// emaAlpha is the exponential moving average smoothing factor applied to
// incremental baseline updates.
const emaAlpha = 0.15

// maxTypicalHours caps the send-hour set kept per baseline.
const maxTypicalHours = 8

// BaselineEngine maintains per-(recipient, sender) behavioral baselines on
// top of a BaselineStore. Updates are serialized per key with a keyed
// mutex; there is no global lock across pairs. Reads go straight to the
// store and may observe a stale-but-consistent snapshot.
type BaselineEngine struct {
	store  BaselineStore
	logger *zap.Logger

	// one mutex per (recipient, sender) key
	locks sync.Map // string -> *sync.Mutex

	wg sync.WaitGroup
}

// NewBaselineEngine creates a new baseline engine.
func NewBaselineEngine(store BaselineStore, logger *zap.Logger) *BaselineEngine {
	return &BaselineEngine{
		store:  store,
		logger: logger,
	}
}

// Get returns the baseline for a pair, or nil for first contact.
func (e *BaselineEngine) Get(ctx context.Context, recipient, sender string) (*SenderBaseline, error) {
	return e.store.GetBaseline(ctx, recipient, sender)
}

// QueueUpdate applies the message to the pair's baseline asynchronously.
// Callers invoke this only after the verdict for the message has been
// produced, so scoring never observes the update. A conflicting concurrent
// update is retried once, then dropped.
func (e *BaselineEngine) QueueUpdate(msg *Message) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.apply(ctx, msg); err != nil {
			if errors.Is(err, ErrBaselineConflict) {
				if err = e.apply(ctx, msg); err == nil {
					return
				}
			}
			e.logger.Warn("Dropping baseline update",
				zap.String("recipient", msg.Recipient),
				zap.String("sender", msg.Sender),
				zap.Error(err))
		}
	}()
}

// Wait blocks until all queued updates have been applied. Used on shutdown
// and in tests.
func (e *BaselineEngine) Wait() {
	e.wg.Wait()
}

func (e *BaselineEngine) apply(ctx context.Context, msg *Message) error {
	key := msg.Recipient + "\x00" + msg.Sender
	muAny, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	wordCount, avgSentenceLen := textMetrics(msg.Body)
	formality := formalityScore(msg.Body)
	sendHour := -1
	if !msg.ReceivedAt.IsZero() {
		sendHour = msg.ReceivedAt.Hour()
	}

	existing, err := e.store.GetBaseline(ctx, msg.Recipient, msg.Sender)
	if err != nil {
		return err
	}

	if existing == nil {
		baseline := &SenderBaseline{
			Recipient:         msg.Recipient,
			Sender:            msg.Sender,
			AvgWordCount:      float64(wordCount),
			AvgSentenceLength: round2(avgSentenceLen),
			FormalityScore:    formality,
			SampleCount:       1,
			LastUpdated:       time.Now().UTC(),
		}
		if sendHour >= 0 {
			baseline.TypicalHours = []int{sendHour}
		}
		if err := e.store.UpsertBaseline(ctx, baseline, 0); err != nil {
			return err
		}
		e.logger.Info("Created sender baseline",
			zap.String("recipient", msg.Recipient),
			zap.String("sender", msg.Sender))
		return nil
	}

	updated := &SenderBaseline{
		Recipient:         msg.Recipient,
		Sender:            msg.Sender,
		AvgWordCount:      round2(emaAlpha*float64(wordCount) + (1-emaAlpha)*existing.AvgWordCount),
		AvgSentenceLength: round2(emaAlpha*avgSentenceLen + (1-emaAlpha)*existing.AvgSentenceLength),
		FormalityScore:    emaAlpha*formality + (1-emaAlpha)*existing.FormalityScore,
		TypicalHours:      mergeHours(existing.TypicalHours, sendHour),
		SampleCount:       existing.SampleCount + 1,
		LastUpdated:       time.Now().UTC(),
	}
	if err := e.store.UpsertBaseline(ctx, updated, existing.SampleCount); err != nil {
		return err
	}
	e.logger.Debug("Updated sender baseline",
		zap.String("recipient", msg.Recipient),
		zap.String("sender", msg.Sender),
		zap.Int("sample_count", updated.SampleCount))
	return nil
}

// mergeHours adds a send hour to the typical-hour set, keeping at most
// maxTypicalHours entries (oldest dropped first) and sorted order.
func mergeHours(hours []int, sendHour int) []int {
	merged := append([]int(nil), hours...)
	if sendHour >= 0 && !containsHour(merged, sendHour) {
		merged = append(merged, sendHour)
		if len(merged) > maxTypicalHours {
			merged = merged[len(merged)-maxTypicalHours:]
		}
	}
	sort.Ints(merged)
	return merged
}
