// Package usage walks accounts, their subscriptions and the subscribed
// spaces, producing one usage record per space report.
package usage

import (
	"context"
	"iter"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/service"
)

// Record is the usage of one space under one provider, attributed to the
// account whose subscription covers it.
type Record struct {
	Account  did.DID        `json:"account"`
	Provider did.DID        `json:"provider"`
	Space    did.DID        `json:"space"`
	Size     service.Size   `json:"size"`
	Period   service.Period `json:"period"`
}

// Reporter is the part of the service client the aggregator needs.
type Reporter interface {
	ListSubscriptions(ctx context.Context, account did.DID) ([]service.Subscription, error)
	ReportUsage(ctx context.Context, space did.DID, period service.Period) (map[string]service.UsageReport, error)
}

// LastMonth returns the period from the start of the previous calendar
// month (UTC) up to now.
func LastMonth(now time.Time) service.Period {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return service.Period{From: start, To: now}
}

// Aggregate yields a record for every report of every consumer space of
// every subscription of every account, in that nesting order.
//
// Calls are issued one at a time and each record is yielded as soon as its
// report arrives; nothing is buffered beyond a single space's reports. The
// first error from any call is yielded once and ends the traversal. Ranging
// over the sequence again repeats every call.
func Aggregate(ctx context.Context, r Reporter, accounts []did.DID, period service.Period) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, account := range accounts {
			subs, err := r.ListSubscriptions(ctx, account)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, sub := range subs {
				for _, space := range sub.Consumers {
					if err := ctx.Err(); err != nil {
						yield(Record{}, err)
						return
					}
					reports, err := r.ReportUsage(ctx, space, period)
					if err != nil {
						yield(Record{}, err)
						return
					}
					for _, key := range sortedKeys(reports) {
						report := reports[key]
						rec := Record{
							Account:  account,
							Provider: report.Provider,
							Space:    space,
							Size:     report.Size,
							Period:   report.Period,
						}
						if !yield(rec, nil) {
							return
						}
					}
				}
			}
		}
	}
}

func sortedKeys(m map[string]service.UsageReport) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Totals accumulates a running total while records stream past.
type Totals struct {
	Records int64
	Final   int64
}

// Add folds rec into the totals.
func (t *Totals) Add(rec Record) {
	t.Records++
	t.Final += rec.Size.Final
}

// FormatSize renders bytes with IEC units when human is set, else as a
// plain integer.
func FormatSize(bytes int64, human bool) string {
	if !human {
		return strconv.FormatInt(bytes, 10)
	}
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
