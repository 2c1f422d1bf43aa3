package coordinator

import (
	"context"
	"os"
	"time"

	"autoqc/internal/logging"
	"autoqc/internal/store"
)

// resume processes samples whose files already exist. The most recently
// written present sample may still be acquiring; it is queued for a watch
// cycle when its successor already exists or it is the last expected sample,
// and otherwise processed synchronously with the rest.
func (c *Coordinator) resume(ctx context.Context) error {
	logger := logging.WithContext(ctx, c.logger)

	pending, current, err := c.store.ListUnprocessedSamples(ctx, c.opts.InstrumentID, c.opts.RunID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if err := c.scan(nil, c.opts.AcquisitionPath, false); err != nil {
		return err
	}

	var (
		present   []store.Sample
		candidate string
		newest    time.Time
	)
	for _, sample := range pending {
		path, ok := c.knownPath(sample.SampleID)
		if !ok {
			continue
		}
		present = append(present, sample)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if candidate == "" || info.ModTime().After(newest) {
			candidate = sample.SampleID
			newest = info.ModTime()
		}
	}
	if candidate != "" && !c.isLast(candidate) && !c.nextPresent(candidate) {
		candidate = ""
	}

	attrs := []logging.Attr{
		logging.Int("unprocessed", len(pending)),
		logging.Int("present", len(present)),
		logging.String("watch_candidate", candidate),
		logging.String(logging.FieldEventType, "run_resume"),
	}
	if current != nil {
		attrs = append(attrs, logging.String("previous_watch", current.SampleID))
	}
	logger.Info("resuming run", logging.Args(attrs...)...)

	for _, sample := range present {
		if sample.SampleID == candidate {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		path, _ := c.knownPath(sample.SampleID)
		c.process(ctx, sample, path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if candidate != "" {
		path, _ := c.knownPath(candidate)
		c.enqueue(candidate, path)
	}
	return nil
}

func (c *Coordinator) knownPath(sampleID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.paths[sampleID]
	return path, ok
}

// nextPresent reports whether the file of the sample following sampleID exists.
func (c *Coordinator) nextPresent(sampleID string) bool {
	idx, ok := c.index[sampleID]
	if !ok || idx+1 >= len(c.order) {
		return false
	}
	path, ok := c.knownPath(c.order[idx+1].SampleID)
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
