package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/klaviyo/incidentio-mcp/internal/jsonrpc"
)

// TestDispatcherCorrelationProperty verifies that for any number of
// in-flight requests and any permutation of response arrival order,
// every call resolves against the response carrying its own id.
func TestDispatcherCorrelationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("permuted responses resolve to their own calls", prop.ForAll(
		func(n int, seed int64) bool {
			return runPermutedExchange(t, n, seed)
		},
		gen.IntRange(1, 16),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func runPermutedExchange(t *testing.T, n int, seed int64) bool {
	t.Helper()

	tp, peer := newPipePair()
	d := New(tp)
	defer d.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		wantID string
		gotID  string
		err    error
	}
	outcomes := make(chan outcome, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.Call(ctx, "test/prop", nil)
			if err != nil {
				outcomes <- outcome{err: err}
				return
			}
			var res struct {
				Echo string `json:"echo"`
			}
			if err := json.Unmarshal(resp.Result, &res); err != nil {
				outcomes <- outcome{err: err}
				return
			}
			outcomes <- outcome{wantID: resp.ID.String(), gotID: res.Echo}
		}()
	}

	// Collect all n requests, then reply in a seed-derived permutation,
	// each response echoing the id it answers.
	ids := make([]*jsonrpc.RequestID, 0, n)
	for i := 0; i < n; i++ {
		msg, err := peer.requests.Next()
		if err != nil {
			t.Logf("peer read: %v", err)
			return false
		}
		ids = append(ids, msg.ID)
	}
	for _, i := range permutation(n, seed) {
		peer.respond(t, ids[i], map[string]string{"echo": ids[i].String()})
	}

	wg.Wait()
	close(outcomes)
	for o := range outcomes {
		if o.err != nil {
			t.Logf("call failed: %v", o.err)
			return false
		}
		if o.wantID != o.gotID {
			t.Logf("call with id %s received response for %s", o.wantID, o.gotID)
			return false
		}
	}
	return true
}

// permutation derives a deterministic shuffle of [0,n) from seed.
func permutation(n int, seed int64) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	s := uint64(seed)
	for i := n - 1; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int(s % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}
	return p
}
