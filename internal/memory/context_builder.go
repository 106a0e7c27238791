package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/oksoyo/slackbroker/internal/tokencount"
)

// ChannelContext carries a channel observer's view scoped to one thread,
// for injection into the <channel-observation> block. Built by the caller
// from internal/channel.Store so this package has no dependency on it.
type ChannelContext struct {
	Digest        string
	RecentChannel []string
	RecentThread  []string
}

// ContextBuilder assembles the per-turn injection block per spec §4.5.5:
// long-term memory, then session observations, then new-observations,
// then channel context, truncating oldest session-date-blocks first when
// over budget and never truncating long-term memory.
type ContextBuilder struct {
	store       *Store
	tokenBudget int
}

func NewContextBuilder(store *Store, tokenBudget int) *ContextBuilder {
	return &ContextBuilder{store: store, tokenBudget: tokenBudget}
}

// Build returns the full injection text for threadTS, scoped by an
// optional ChannelContext (nil if the turn isn't channel-observed).
func (b *ContextBuilder) Build(threadTS string, channelCtx *ChannelContext) (string, error) {
	persistent, err := b.store.ReadPersistent()
	if err != nil {
		return "", fmt.Errorf("reading persistent memory: %w", err)
	}
	session, err := b.store.GetSession(threadTS)
	if err != nil {
		return "", fmt.Errorf("reading session record: %w", err)
	}
	fresh, err := b.store.ReadNewObservations(threadTS)
	if err != nil {
		return "", fmt.Errorf("reading new observations: %w", err)
	}

	ltmBlock := renderLongTerm(persistent)
	sessionBlocks := renderSessionBlocks(session.Observations)
	newBlock := renderNewObservations(fresh)
	channelBlock := renderChannelContext(channelCtx)

	budget := b.tokenBudget
	if budget <= 0 {
		budget = 4000
	}

	// Long-term is never truncated; everything else shares the remaining
	// budget, dropping the oldest session-date-block first.
	used := tokencount.Count(ltmBlock)
	for len(sessionBlocks) > 0 && used+tokencount.CountAll(sessionBlocks...)+tokencount.Count(newBlock)+tokencount.Count(channelBlock) > budget {
		sessionBlocks = sessionBlocks[1:]
	}

	var out strings.Builder
	if ltmBlock != "" {
		fmt.Fprintf(&out, "<long-term-memory>\n%s</long-term-memory>\n", ltmBlock)
	}
	if len(sessionBlocks) > 0 {
		fmt.Fprintf(&out, "<observational-memory>\n%s</observational-memory>\n", strings.Join(sessionBlocks, ""))
	}
	if newBlock != "" {
		fmt.Fprintf(&out, "<new-observations>\n%s</new-observations>\n", newBlock)
	}
	if channelBlock != "" {
		fmt.Fprintf(&out, "<channel-observation>\n%s</channel-observation>\n", channelBlock)
	}
	return out.String(), nil
}

func renderLongTerm(p Persistent) string {
	if len(p.Items) == 0 {
		return ""
	}
	var b strings.Builder
	items := append([]PersistentItem(nil), p.Items...)
	sortByPriority(items, func(i PersistentItem) Priority { return i.Priority })
	for _, item := range items {
		fmt.Fprintf(&b, "%s %s\n", item.Priority, item.Content)
	}
	return b.String()
}

// renderSessionBlocks groups observations by session_date and renders one
// block per date, oldest first, with a relative-time annotation so the
// oldest block is the first candidate for truncation.
func renderSessionBlocks(items []ObservationItem) []string {
	if len(items) == 0 {
		return nil
	}
	byDate := make(map[string][]ObservationItem)
	var dates []string
	for _, o := range items {
		if _, ok := byDate[o.SessionDate]; !ok {
			dates = append(dates, o.SessionDate)
		}
		byDate[o.SessionDate] = append(byDate[o.SessionDate], o)
	}
	sortDatesAscending(dates)

	blocks := make([]string, 0, len(dates))
	for _, date := range dates {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s]\n", relativeDateLabel(date))
		for _, o := range byDate[date] {
			fmt.Fprintf(&b, "%s %s\n", o.Priority, o.Content)
		}
		blocks = append(blocks, b.String())
	}
	return blocks
}

func sortDatesAscending(dates []string) {
	for i := 1; i < len(dates); i++ {
		for j := i; j > 0 && dates[j] < dates[j-1]; j-- {
			dates[j], dates[j-1] = dates[j-1], dates[j]
		}
	}
}

// relativeDateLabel renders session_date (YYYYMMDD) as "오늘"/"어제"/"N일 전".
func relativeDateLabel(sessionDate string) string {
	t, err := time.Parse("20060102", sessionDate)
	if err != nil {
		return sessionDate
	}
	days := int(time.Now().UTC().Truncate(24*time.Hour).Sub(t.Truncate(24*time.Hour)).Hours() / 24)
	switch {
	case days <= 0:
		return "오늘"
	case days == 1:
		return "어제"
	default:
		return fmt.Sprintf("%d일 전", days)
	}
}

func renderNewObservations(items []ObservationItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, o := range items {
		fmt.Fprintf(&b, "%s %s\n", o.Priority, o.Content)
	}
	return b.String()
}

func renderChannelContext(c *ChannelContext) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	if c.Digest != "" {
		fmt.Fprintf(&b, "digest: %s\n", c.Digest)
	}
	for _, line := range c.RecentChannel {
		fmt.Fprintf(&b, "channel: %s\n", line)
	}
	for _, line := range c.RecentThread {
		fmt.Fprintf(&b, "thread: %s\n", line)
	}
	return b.String()
}
