package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/researchaccelerator-hub/media-atlas/state"
	"github.com/rs/zerolog/log"
)

const checkpointVersion = 1

// ActiveCrawlKey names the marker that points at the most recent crawl.
const ActiveCrawlKey = "active_crawl"

// Checkpoint is the durable frontier state of one crawl. It is rewritten on
// every mutation, before any lease it records is handed out.
type Checkpoint struct {
	Version int    `json:"version"`
	CrawlID string `json:"crawl_id"`
	Owner   string `json:"owner"`
	// Cursor increases by one with every successful write.
	Cursor  uint64               `json:"cursor"`
	Seq     uint64               `json:"seq"`
	Pending []Entry              `json:"pending"`
	Leased  []Lease              `json:"leased"`
	Domains map[string]time.Time `json:"domains,omitempty"`
	Seen    map[string]time.Time `json:"seen,omitempty"`
	SavedAt time.Time            `json:"saved_at"`
}

// Summary returns counts for status output.
func (cp *Checkpoint) Summary() map[string]interface{} {
	return map[string]interface{}{
		"crawl_id":  cp.CrawlID,
		"owner":     cp.Owner,
		"cursor":    cp.Cursor,
		"pending":   len(cp.Pending),
		"in_flight": len(cp.Leased),
		"domains":   len(cp.Domains),
		"seen":      len(cp.Seen),
		"saved_at":  cp.SavedAt,
	}
}

// ActiveCrawl is the marker written next to every checkpoint.
type ActiveCrawl struct {
	CrawlID   string    `json:"crawl_id"`
	Owner     string    `json:"owner"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore reads and writes checkpoints for one crawl on behalf of one
// coordinator instance. Writes are fenced: once another instance has claimed
// the checkpoint, every write from this one fails with ErrFenced.
type CheckpointStore struct {
	store   state.Store
	crawlID string
	owner   string
	retry   common.RetryPolicy
	now     func() time.Time
}

func NewCheckpointStore(store state.Store, crawlID, owner string) *CheckpointStore {
	retry := common.DefaultRetryPolicy()
	retry.IsRetryable = func(err error) bool {
		return !errors.Is(err, ErrFenced) && common.IsTransient(err)
	}
	return &CheckpointStore{
		store:   store,
		crawlID: crawlID,
		owner:   owner,
		retry:   retry,
		now:     time.Now,
	}
}

// WithRetryPolicy replaces the policy used for store writes.
func (s *CheckpointStore) WithRetryPolicy(p common.RetryPolicy) *CheckpointStore {
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = common.IsTransient
	}
	p.IsRetryable = func(err error) bool {
		return !errors.Is(err, ErrFenced) && isRetryable(err)
	}
	s.retry = p
	return s
}

func checkpointKey(crawlID string) string {
	return crawlID + "/checkpoint"
}

// Load reads the checkpoint and the etag it was stored under. It returns
// state.ErrNotFound when the crawl has never been checkpointed.
func (s *CheckpointStore) Load(ctx context.Context) (*Checkpoint, string, error) {
	return LoadCheckpoint(ctx, s.store, s.crawlID)
}

// LoadCheckpoint reads a crawl's checkpoint without claiming it.
func LoadCheckpoint(ctx context.Context, store state.Store, crawlID string) (*Checkpoint, string, error) {
	item, err := store.Get(ctx, checkpointKey(crawlID))
	if err != nil {
		return nil, "", err
	}
	var cp Checkpoint
	if err := json.Unmarshal(item.Value, &cp); err != nil {
		return nil, "", fmt.Errorf("failed to decode checkpoint for %s: %w", crawlID, err)
	}
	if cp.Version != checkpointVersion {
		return nil, "", fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	return &cp, item.ETag, nil
}

// Save writes cp if this instance still owns the checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	cp.Version = checkpointVersion
	cp.CrawlID = s.crawlID
	cp.Owner = s.owner
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := checkpointKey(s.crawlID)
	return s.retry.Do(ctx, func(ctx context.Context) error {
		item, err := s.store.Get(ctx, key)
		switch {
		case errors.Is(err, state.ErrNotFound):
			err = s.store.SetIfMatch(ctx, key, data, "")
		case err != nil:
			return err
		default:
			var head struct {
				Owner string `json:"owner"`
			}
			if err := json.Unmarshal(item.Value, &head); err != nil {
				return fmt.Errorf("failed to decode stored checkpoint: %w", err)
			}
			if head.Owner != s.owner {
				return fmt.Errorf("%w: checkpoint owned by %s", ErrFenced, head.Owner)
			}
			err = s.store.SetIfMatch(ctx, key, data, item.ETag)
		}
		if errors.Is(err, state.ErrConflict) {
			return fmt.Errorf("%w: %v", ErrFenced, err)
		}
		return err
	})
}

// Claim takes ownership of a loaded checkpoint by rewriting it under the etag
// it was read with. A concurrent writer makes the claim fail with ErrFenced.
func (s *CheckpointStore) Claim(ctx context.Context, cp *Checkpoint, etag string) error {
	cp.Version = checkpointVersion
	cp.CrawlID = s.crawlID
	cp.Owner = s.owner
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.store.SetIfMatch(ctx, checkpointKey(s.crawlID), data, etag)
	})
	if errors.Is(err, state.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrFenced, err)
	}
	return err
}

// MarkActive points the active crawl marker at this crawl.
func (s *CheckpointStore) MarkActive(ctx context.Context) error {
	data, err := json.Marshal(ActiveCrawl{CrawlID: s.crawlID, Owner: s.owner, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal active crawl marker: %w", err)
	}
	if err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.store.Set(ctx, ActiveCrawlKey, data, 0)
	}); err != nil {
		return fmt.Errorf("failed to write active crawl marker: %w", err)
	}
	log.Debug().Str("crawl_id", s.crawlID).Msg("Updated active crawl marker")
	return nil
}

// ReadActiveCrawl returns the marker of the most recently checkpointed crawl.
func ReadActiveCrawl(ctx context.Context, store state.Store) (ActiveCrawl, error) {
	item, err := store.Get(ctx, ActiveCrawlKey)
	if err != nil {
		return ActiveCrawl{}, err
	}
	var marker ActiveCrawl
	if err := json.Unmarshal(item.Value, &marker); err != nil {
		return ActiveCrawl{}, fmt.Errorf("failed to decode active crawl marker: %w", err)
	}
	return marker, nil
}
