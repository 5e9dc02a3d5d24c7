// Package netting merges annotated cash flows across trades: flows on the same
// payment date with the same type, currency and source that run between the
// same two parties are summed when they point the same way and netted when
// they point opposite ways.
package netting

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/model"
)

// Stats reports what a merge did, for metrics and logging.
type Stats struct {
	Input                 int
	Output                int
	Sums                  int
	Nets                  int
	Cancellations         int
	CompressionIterations int
}

// Engine is the cross-trade merge engine.
type Engine struct {
	Epsilon decimal.Decimal
	Merger  explain.Merger
}

// New returns an engine whose explain merger shares the engine's epsilon.
func New(dc daycount.Calculator, epsilon decimal.Decimal, maxIterations int) *Engine {
	return &Engine{
		Epsilon: epsilon,
		Merger: explain.Merger{
			DayCount:      dc,
			Epsilon:       epsilon,
			MaxIterations: maxIterations,
		},
	}
}

// Mergeable reports whether two flows on the same date may be combined.
func Mergeable(a, b model.AnnotatedCashFlow) bool {
	if a.Type != b.Type || a.Currency != b.Currency {
		return false
	}
	if a.SourceID == "" || a.SourceID != b.SourceID {
		return false
	}
	return sameDirection(a, b) || swapped(a, b)
}

func sameDirection(a, b model.AnnotatedCashFlow) bool {
	return a.Payer == b.Payer && a.Receiver == b.Receiver
}

func swapped(a, b model.AnnotatedCashFlow) bool {
	return a.Payer == b.Receiver && a.Receiver == b.Payer
}

// Merge groups flows by payment date, ascending, and folds each bucket in
// input order: every incoming flow combines with the first already-merged
// flow it is mergeable with, or is appended. Interest explains are compressed
// once all merges are done.
func (e *Engine) Merge(flows []model.AnnotatedCashFlow) ([]model.AnnotatedCashFlow, Stats, error) {
	stats := Stats{Input: len(flows)}

	buckets := make(map[time.Time][]model.AnnotatedCashFlow)
	var dates []time.Time
	for _, f := range flows {
		key := daycount.Date(f.PaymentDate)
		if _, ok := buckets[key]; !ok {
			dates = append(dates, key)
		}
		buckets[key] = append(buckets[key], f)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var out []model.AnnotatedCashFlow
	for _, dt := range dates {
		merged, err := e.mergeBucket(buckets[dt], &stats)
		if err != nil {
			return nil, stats, fmt.Errorf("merge %s: %w", dt.Format("2006-01-02"), err)
		}
		out = append(out, merged...)
	}

	for i := range out {
		if out[i].Type != model.TypeInterest || out[i].Explain == nil {
			continue
		}
		compressed, n, err := e.Merger.Compress(*out[i].Explain)
		if err != nil {
			return nil, stats, fmt.Errorf("compress %s %s: %w", out[i].Type, out[i].SourceID, err)
		}
		stats.CompressionIterations += n
		out[i].Explain = &compressed
	}

	stats.Output = len(out)
	return out, stats, nil
}

func (e *Engine) mergeBucket(flows []model.AnnotatedCashFlow, stats *Stats) ([]model.AnnotatedCashFlow, error) {
	var merged []model.AnnotatedCashFlow
	for _, f := range flows {
		idx := -1
		for i, m := range merged {
			if Mergeable(m, f) {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, f)
			continue
		}

		if sameDirection(merged[idx], f) {
			sum, err := e.sum(merged[idx], f)
			if err != nil {
				return nil, err
			}
			merged[idx] = sum
			stats.Sums++
			continue
		}

		net, keep, err := e.net(merged[idx], f)
		if err != nil {
			return nil, err
		}
		stats.Nets++
		if !keep {
			merged = append(merged[:idx], merged[idx+1:]...)
			stats.Cancellations++
			continue
		}
		merged[idx] = net
	}
	return merged, nil
}

// sum combines two flows running the same way.
func (e *Engine) sum(first, second model.AnnotatedCashFlow) (model.AnnotatedCashFlow, error) {
	out := first
	out.Amount = first.Amount.Add(second.Amount)
	out.Uncertain = first.Uncertain || second.Uncertain
	out.TradeID = commonTradeID(first, second)

	trace, err := e.mergeExplain(first, second, true)
	if err != nil {
		return model.AnnotatedCashFlow{}, err
	}
	out.Explain = trace
	return out, nil
}

// net combines two flows running opposite ways. The result keeps first's
// direction when first − second is positive and flips to second's otherwise.
// keep is false when the difference is within epsilon.
func (e *Engine) net(first, second model.AnnotatedCashFlow) (out model.AnnotatedCashFlow, keep bool, err error) {
	diff := first.Amount.Sub(second.Amount)
	if diff.Abs().LessThanOrEqual(e.Epsilon) {
		return model.AnnotatedCashFlow{}, false, nil
	}

	// The subtracted side of the explain merge is the flow that lost.
	winner, loser := first, second
	if diff.IsNegative() {
		winner, loser = second, first
	}
	out = winner
	out.Amount = diff.Abs()
	out.Uncertain = first.Uncertain || second.Uncertain
	out.TradeID = commonTradeID(first, second)

	trace, err := e.mergeExplain(loser, winner, false)
	if err != nil {
		return model.AnnotatedCashFlow{}, false, err
	}
	out.Explain = trace
	return out, true, nil
}

// mergeExplain merges interest explains; other types carry the winning
// side's explain forward unchanged.
func (e *Engine) mergeExplain(first, second model.AnnotatedCashFlow, add bool) (*explain.Trace, error) {
	if first.Type != model.TypeInterest || first.Explain == nil || second.Explain == nil {
		primary, fallback := first.Explain, second.Explain
		if !add {
			primary, fallback = fallback, primary
		}
		if primary != nil {
			return primary, nil
		}
		return fallback, nil
	}
	trace, err := e.Merger.Merge(*first.Explain, *second.Explain, add)
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

func commonTradeID(a, b model.AnnotatedCashFlow) string {
	if a.TradeID == b.TradeID {
		return a.TradeID
	}
	return ""
}
