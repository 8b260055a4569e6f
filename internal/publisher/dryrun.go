package publisher

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"unicode/utf8"

	"github.com/kiranshivaraju/threadpost/pkg/models"
)

// dryRunIDBase keeps synthetic ids numeric like real post ids while making
// them easy to tell apart.
const dryRunIDBase = 9_000_000_000_000_000_000

// DryRunPublisher logs posts instead of sending them. Ids are synthetic and
// unique for the life of the process.
type DryRunPublisher struct {
	seq atomic.Uint64
}

func NewDryRunPublisher() *DryRunPublisher {
	return &DryRunPublisher{}
}

func (p *DryRunPublisher) Name() string { return "dry_run" }

func (p *DryRunPublisher) Ready() error { return nil }

func (p *DryRunPublisher) Publish(_ context.Context, text, replyToID string) (string, error) {
	id := strconv.FormatUint(dryRunIDBase+p.seq.Add(1), 10)
	slog.Info("dry run: post not sent",
		"post_id", id,
		"reply_to_id", replyToID,
		"chars", utf8.RuneCountInString(text),
		"text", text,
	)
	return id, nil
}

var _ models.Publisher = (*DryRunPublisher)(nil)
