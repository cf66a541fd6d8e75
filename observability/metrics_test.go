package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMarketMetrics(t *testing.T) {
	m := Market()
	if Market() != m {
		t.Fatalf("expected singleton registry")
	}
	m.ObserveOperation("buy", "ok", 10*time.Millisecond)
	m.ObserveOperation("buy", "invalid_value", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("buy", "ok")); got != 1 {
		t.Fatalf("ok counter %v", got)
	}

	wei, _ := new(big.Int).SetString("5500000000000000000", 10)
	m.RecordSale(wei)
	if got := testutil.ToFloat64(m.volume); got != 5.5 {
		t.Fatalf("volume %v", got)
	}
	m.SetLedgerBalance(wei)
	if got := testutil.ToFloat64(m.ledger); got != 5.5 {
		t.Fatalf("ledger %v", got)
	}
	m.ObserveHTTP("", 404)
	if got := testutil.ToFloat64(m.httpReqs.WithLabelValues("unmatched", "404")); got != 1 {
		t.Fatalf("http counter %v", got)
	}
}
