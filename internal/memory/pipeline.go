package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oksoyo/slackbroker/internal/audit"
	"github.com/oksoyo/slackbroker/internal/tokencount"
)

// DeadLetterSink is the narrow audit surface a failed promotion pass needs.
type DeadLetterSink interface {
	SaveDeadLetter(dl *audit.DeadLetter) error
}

// Config holds the OM pipeline's tunable thresholds, sourced from
// internal/config.Config.
type Config struct {
	MinTurnTokens       int
	ReflectionThreshold int
	PromotionThreshold  int
	CompactionThreshold int
	CompactTarget       int
}

// Pipeline is the OMPipeline: per-turn observation, per-session reflection,
// cross-session promotion, and persistent-memory compaction, per spec §4.5.
type Pipeline struct {
	store       *Store
	ops         *Ops
	cfg         Config
	deadLetters DeadLetterSink
	logger      zerolog.Logger

	idMu  sync.Mutex
	idSeq map[string]int // (kind+date) -> next sequence number, in-process only
}

// NewPipeline constructs the OM pipeline. deadLetters may be nil, in which
// case a failed promotion pass is only logged.
func NewPipeline(store *Store, ops *Ops, cfg Config, deadLetters DeadLetterSink, logger zerolog.Logger) *Pipeline {
	if cfg.CompactTarget <= 0 {
		cfg.CompactTarget = cfg.CompactionThreshold / 2
	}
	return &Pipeline{
		store:       store,
		ops:         ops,
		cfg:         cfg,
		deadLetters: deadLetters,
		logger:      logger.With().Str("component", "om_pipeline").Logger(),
		idSeq:       make(map[string]int),
	}
}

// nextID returns a monotonic "<kind>_YYYYMMDD_NNN" id for today. The
// counter is in-process only and starts again at 1 after a restart, so an
// id issued before the restart can be issued again; mergeByID skips "ltm"
// ids already present in persistent memory, while observation ids may
// repeat across a restart.
func (p *Pipeline) nextID(kind string) string {
	day := time.Now().UTC().Format("20060102")
	key := kind + "_" + day
	p.idMu.Lock()
	p.idSeq[key]++
	n := p.idSeq[key]
	p.idMu.Unlock()
	return fmt.Sprintf("%s_%s_%03d", kind, day, n)
}

// OnTurn runs the per-turn observe step (§4.5.1) followed by reflection
// (§4.5.2) if the session's observation budget has been exceeded. Call
// once per successful engine round-trip.
func (p *Pipeline) OnTurn(ctx context.Context, threadTS, userText, assistantText string) error {
	if err := p.store.AppendConversationTurn(threadTS, ConversationTurn{
		TS: threadTS, UserText: userText, AssistantText: assistantText, At: time.Now().UTC(),
	}); err != nil {
		p.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to append conversation turn")
	}

	if tokencount.CountAll(userText, assistantText) < p.cfg.MinTurnTokens {
		return nil
	}

	rec, err := p.store.GetSession(threadTS)
	if err != nil {
		return fmt.Errorf("reading session record: %w", err)
	}

	result, err := p.ops.Observe(ctx, rec.Observations, userText, assistantText)
	if err != nil {
		return fmt.Errorf("observe operation: %w", err)
	}

	today := time.Now().UTC().Format("20060102")
	var fresh []ObservationItem
	for _, o := range result.Observations {
		o.ID = p.nextID("obs")
		o.SessionDate = today
		o.CreatedAt = time.Now().UTC()
		if o.Source == "" {
			o.Source = "observer"
		}
		fresh = append(fresh, o)
	}

	rec.Observations = append(rec.Observations, fresh...)
	rec.ObservationTokens = tokencount.CountAll(observationTexts(rec.Observations)...)
	rec.LastObservedAt = time.Now().UTC()
	rec.TotalSessionsObserved++

	if err := p.store.WriteNewObservations(threadTS, fresh); err != nil {
		p.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to persist new-observations diff")
	}
	if len(result.Candidates) > 0 {
		if err := p.store.AppendCandidates(threadTS, result.Candidates); err != nil {
			p.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("failed to append candidates")
		}
	}

	if rec.ObservationTokens > p.cfg.ReflectionThreshold {
		compressed, err := p.ops.Reflect(ctx, rec.Observations)
		if err != nil {
			p.logger.Warn().Err(err).Str("thread_ts", threadTS).Msg("reflection failed, keeping uncompressed observations")
		} else {
			rec.Observations = compressed
			rec.ObservationTokens = tokencount.CountAll(observationTexts(rec.Observations)...)
			rec.ReflectionCount++
		}
	}

	return p.store.PutSession(threadTS, rec)
}

func observationTexts(items []ObservationItem) []string {
	out := make([]string, len(items))
	for i, o := range items {
		out[i] = o.Content
	}
	return out
}

// MaybePromote runs the cross-session promotion pass (§4.5.3) if total
// candidate tokens across all sessions exceed promotion_threshold.
// Candidates are only cleared after a successful promotion commit.
func (p *Pipeline) MaybePromote(ctx context.Context) error {
	all, err := p.store.AllCandidates()
	if err != nil {
		return fmt.Errorf("reading candidates: %w", err)
	}
	if len(all) == 0 {
		return nil
	}

	var texts []string
	for _, cs := range all {
		for _, c := range cs {
			texts = append(texts, c.Content)
		}
	}
	if tokencount.CountAll(texts...) <= p.cfg.PromotionThreshold {
		return nil
	}

	existing, err := p.store.ReadPersistent()
	if err != nil {
		return fmt.Errorf("reading persistent memory: %w", err)
	}

	result, err := p.ops.Promote(ctx, all, existing)
	if err != nil {
		p.saveDeadLetter("promote operation", err)
		return fmt.Errorf("promote operation: %w", err)
	}

	merged := mergeByID(existing.Items, result.Promoted, p)
	persistent := Persistent{
		Items:      merged,
		TokenCount: tokencount.CountAll(persistentTexts(merged)...),
		UpdatedAt:  time.Now().UTC(),
	}

	if err := p.store.WritePersistent(persistent); err != nil {
		p.saveDeadLetter("writing persistent memory", err)
		return fmt.Errorf("writing persistent memory: %w", err)
	}

	// Only now, after the write succeeded, clear candidates — if the LLM
	// call or write failed above we returned already and candidates stay
	// untouched, per spec §4.5.3.
	if err := p.store.ClearAllCandidates(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to clear candidates after successful promotion")
	}

	return p.maybeCompact(ctx, persistent)
}

// saveDeadLetter records a failed promotion pass for later replay.
// Promotion runs across sessions, not against a single channel/thread, so
// the dead letter carries no target — replay re-runs MaybePromote wholesale.
func (p *Pipeline) saveDeadLetter(stage string, cause error) {
	if p.deadLetters == nil {
		return
	}
	dl := &audit.DeadLetter{
		ID:          uuid.New().String(),
		Kind:        audit.DeadLetterPromotion,
		Message:     stage,
		Error:       cause.Error(),
		NextRetryAt: time.Now().Add(5 * time.Minute).UnixMilli(),
	}
	if err := p.deadLetters.SaveDeadLetter(dl); err != nil {
		p.logger.Warn().Err(err).Msg("failed to record dead letter for failed promotion pass")
	}
}

func mergeByID(existing []PersistentItem, promoted []PersistentItem, p *Pipeline) []PersistentItem {
	byID := make(map[string]PersistentItem, len(existing))
	var order []string
	for _, item := range existing {
		byID[item.ID] = item
		order = append(order, item.ID)
	}
	for _, item := range promoted {
		if item.ID == "" {
			item.ID = p.nextID("ltm")
			for {
				if _, taken := byID[item.ID]; !taken {
					break
				}
				item.ID = p.nextID("ltm")
			}
		}
		if item.PromotedAt.IsZero() {
			item.PromotedAt = time.Now().UTC()
		}
		if _, exists := byID[item.ID]; !exists {
			order = append(order, item.ID)
		}
		byID[item.ID] = item
	}
	out := make([]PersistentItem, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func persistentTexts(items []PersistentItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Content
	}
	return out
}

// maybeCompact snapshots and compacts the persistent store if it exceeds
// compaction_threshold after a merge, per spec §4.5.4.
func (p *Pipeline) maybeCompact(ctx context.Context, current Persistent) error {
	if current.TokenCount <= p.cfg.CompactionThreshold {
		return nil
	}
	compacted, err := p.ops.Compact(ctx, current, p.cfg.CompactTarget)
	if err != nil {
		return fmt.Errorf("compact operation: %w", err)
	}
	next := Persistent{
		Items:      compacted,
		TokenCount: tokencount.CountAll(persistentTexts(compacted)...),
		UpdatedAt:  time.Now().UTC(),
	}
	return p.store.WritePersistent(next)
}

// sortByPriority orders items 🔴 before 🟡 before 🟢, stable within a band,
// used by ContextBuilder to present the most important facts first.
func sortByPriority[T any](items []T, priorityOf func(T) Priority) {
	rank := map[Priority]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}
	sort.SliceStable(items, func(i, j int) bool {
		return rank[priorityOf(items[i])] < rank[priorityOf(items[j])]
	})
}
