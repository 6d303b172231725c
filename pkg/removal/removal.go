// Package removal removes a set of shards concurrently, collecting an
// independent outcome for every shard.
package removal

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/sourcegraph/conc/pool"

	"github.com/3leaps/gospace/pkg/did"
)

// Status is the result of a single removal.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the result of removing one shard.
type Outcome struct {
	ID     cid.Cid
	Status Status
	Err    error
}

// Message returns the failure message, or "" on success.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Result holds one outcome per distinct requested shard, in request order.
type Result struct {
	Outcomes []Outcome
}

// Failed reports whether any removal failed.
func (r *Result) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == StatusFailure {
			return true
		}
	}
	return false
}

// FailedCount returns the number of failed removals.
func (r *Result) FailedCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusFailure {
			n++
		}
	}
	return n
}

// ShardRemover removes a single shard from a space.
type ShardRemover interface {
	RemoveShard(ctx context.Context, space did.DID, shard cid.Cid) error
}

// ObserveFunc is called once per outcome as it resolves. Calls are
// serialized and arrive in completion order.
type ObserveFunc func(Outcome)

// RemoveAll issues one removal per distinct shard, all at once, and waits for
// every one to finish. A failure never cancels the others. Duplicate shards
// are removed once and reported at their first position.
func RemoveAll(ctx context.Context, remover ShardRemover, space did.DID, shards []cid.Cid, observe ObserveFunc) *Result {
	unique := dedupe(shards)
	res := &Result{Outcomes: make([]Outcome, len(unique))}
	if len(unique) == 0 {
		return res
	}

	var mu sync.Mutex
	p := pool.New()
	for i, shard := range unique {
		p.Go(func() {
			out := Outcome{ID: shard, Status: StatusSuccess}
			if err := ctx.Err(); err != nil {
				out.Status, out.Err = StatusFailure, err
			} else if err := remover.RemoveShard(ctx, space, shard); err != nil {
				out.Status, out.Err = StatusFailure, err
			}

			mu.Lock()
			defer mu.Unlock()
			res.Outcomes[i] = out
			if observe != nil {
				observe(out)
			}
		})
	}
	p.Wait()

	return res
}

func dedupe(shards []cid.Cid) []cid.Cid {
	seen := make(map[cid.Cid]struct{}, len(shards))
	out := make([]cid.Cid, 0, len(shards))
	for _, s := range shards {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
