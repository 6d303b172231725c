package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/service"
)

// fakeReporter builds a regular account → subscription → consumer tree and
// answers every space with one report per provider.
type fakeReporter struct {
	mu sync.Mutex

	subs      map[did.DID][]service.Subscription
	providers []did.DID
	sizeOf    func(space, provider did.DID) int64

	failSubs   did.DID
	failReport did.DID

	subCalls    int
	reportCalls int
}

func newTree(accounts, subsPer, consumersPer int, providers []did.DID) (*fakeReporter, []did.DID) {
	f := &fakeReporter{
		subs:      map[did.DID][]service.Subscription{},
		providers: providers,
		sizeOf: func(space, provider did.DID) int64 {
			return int64(len(space) * len(provider))
		},
	}
	var accts []did.DID
	for a := range accounts {
		acct := did.MustParse(fmt.Sprintf("did:mailto:example.com:user%d", a))
		accts = append(accts, acct)
		for s := range subsPer {
			sub := service.Subscription{ID: fmt.Sprintf("sub-%d-%d", a, s), Provider: providers[0]}
			for c := range consumersPer {
				sub.Consumers = append(sub.Consumers, did.MustParse(fmt.Sprintf("did:key:z6Mk%d%d%d", a, s, c)))
			}
			f.subs[acct] = append(f.subs[acct], sub)
		}
	}
	return f, accts
}

func (f *fakeReporter) ListSubscriptions(_ context.Context, account did.DID) ([]service.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if account == f.failSubs {
		return nil, errors.New("subscriptions unavailable")
	}
	return f.subs[account], nil
}

func (f *fakeReporter) ReportUsage(_ context.Context, space did.DID, period service.Period) (map[string]service.UsageReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportCalls++
	if space == f.failReport {
		return nil, errors.New("report failed")
	}
	out := map[string]service.UsageReport{}
	for _, p := range f.providers {
		out[p.String()] = service.UsageReport{
			Provider: p,
			Space:    space,
			Size:     service.Size{Final: f.sizeOf(space, p)},
			Period:   period,
		}
	}
	return out, nil
}

var (
	providerA = did.MustParse("did:web:a.example")
	providerB = did.MustParse("did:web:b.example")
)

func TestAggregate_YieldsEveryReport(t *testing.T) {
	const n, m, k = 3, 2, 4
	providers := []did.DID{providerB, providerA}
	f, accounts := newTree(n, m, k, providers)
	period := LastMonth(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))

	var records []Record
	var totals Totals
	var expected int64
	for rec, err := range Aggregate(context.Background(), f, accounts, period) {
		require.NoError(t, err)
		records = append(records, rec)
		totals.Add(rec)
		expected += f.sizeOf(rec.Space, rec.Provider)
	}

	require.Len(t, records, n*m*k*len(providers))
	assert.Equal(t, int64(len(records)), totals.Records)
	assert.Equal(t, expected, totals.Final)
	assert.Equal(t, n, f.subCalls)
	assert.Equal(t, n*m*k, f.reportCalls)

	// Records are tagged with their origin and follow traversal order.
	first := records[0]
	assert.Equal(t, accounts[0], first.Account)
	assert.Equal(t, did.MustParse("did:key:z6Mk000"), first.Space)
	assert.Equal(t, providerA, first.Provider, "reports for a space are ordered by provider")
	assert.Equal(t, providerB, records[1].Provider)
	assert.Equal(t, period, first.Period)

	last := records[len(records)-1]
	assert.Equal(t, accounts[n-1], last.Account)
	assert.Equal(t, did.MustParse("did:key:z6Mk213"), last.Space)
}

func TestAggregate_IsLazy(t *testing.T) {
	f, accounts := newTree(2, 2, 2, []did.DID{providerA})

	count := 0
	for _, err := range Aggregate(context.Background(), f, accounts, service.Period{}) {
		require.NoError(t, err)
		count++
		break
	}

	assert.Equal(t, 1, count)
	assert.Equal(t, 1, f.subCalls)
	assert.Equal(t, 1, f.reportCalls)
}

func TestAggregate_NoAccounts(t *testing.T) {
	f, _ := newTree(0, 0, 0, []did.DID{providerA})

	count := 0
	for range Aggregate(context.Background(), f, nil, service.Period{}) {
		count++
	}
	assert.Zero(t, count)
	assert.Zero(t, f.subCalls)
}

func TestAggregate_SubscriptionFailureAborts(t *testing.T) {
	f, accounts := newTree(3, 1, 1, []did.DID{providerA})
	f.failSubs = accounts[1]

	var records []Record
	var gotErr error
	for rec, err := range Aggregate(context.Background(), f, accounts, service.Period{}) {
		if err != nil {
			gotErr = err
			continue
		}
		records = append(records, rec)
	}

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "subscriptions unavailable")
	assert.Len(t, records, 1, "records before the failure are still delivered")
	assert.Equal(t, 2, f.subCalls, "no account after the failing one is visited")
}

func TestAggregate_ReportFailureAborts(t *testing.T) {
	f, accounts := newTree(1, 1, 3, []did.DID{providerA})
	f.failReport = did.MustParse("did:key:z6Mk001")

	var errs []error
	records := 0
	for _, err := range Aggregate(context.Background(), f, accounts, service.Period{}) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records++
	}

	require.Len(t, errs, 1)
	assert.Equal(t, 1, records)
	assert.Equal(t, 2, f.reportCalls)
}

func TestAggregate_CancelledContext(t *testing.T) {
	f, accounts := newTree(1, 1, 2, []did.DID{providerA})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range Aggregate(ctx, f, accounts, service.Period{}) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
	assert.Zero(t, f.reportCalls)
}

func TestLastMonth(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		from time.Time
	}{
		{
			name: "mid month",
			now:  time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
			from: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "january wraps to december",
			now:  time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			from: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "end of march",
			now:  time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC),
			from: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := LastMonth(tt.now)
			assert.True(t, tt.from.Equal(p.From), "from = %s", p.From)
			assert.True(t, tt.now.Equal(p.To))
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "1536", FormatSize(1536, false))
	assert.Equal(t, "0", FormatSize(0, false))
	assert.Equal(t, "5 B", FormatSize(5, true))
	assert.Equal(t, "1.5 KiB", FormatSize(1536, true))
	assert.Equal(t, "1.0 MiB", FormatSize(1<<20, true))
	assert.Equal(t, "0 B", FormatSize(-3, true))
}
