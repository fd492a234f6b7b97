package evidence

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/chatbot/internal/policy"
)

const (
	reasonDisabled = "DATABASE_URL이 설정되지 않았습니다."
	reasonOK       = "DB 연결은 성공했지만, 실제 retrieval 쿼리는 아직 미구현입니다."
)

// Retriever resolves evidence for a user query. Retrieve never fails; the
// bundle status carries the reason an empty bundle is empty.
type Retriever struct {
	url     string
	timeout time.Duration

	driver Driver

	mu     sync.Mutex
	prober Prober
}

func NewRetriever(url string, timeout time.Duration) *Retriever {
	r := &Retriever{url: strings.TrimSpace(url), timeout: timeout}
	if r.url != "" {
		r.driver, _ = lookupDriver(r.url)
	}
	return r
}

// NewRetrieverWithProber skips driver lookup and probes with p.
func NewRetrieverWithProber(p Prober, timeout time.Duration) *Retriever {
	return &Retriever{url: "injected", timeout: timeout, prober: p}
}

// Configured reports whether an evidence store address was given.
func (r *Retriever) Configured() bool {
	return r != nil && r.url != ""
}

func (r *Retriever) Retrieve(ctx context.Context, _ string) Bundle {
	if r == nil || r.url == "" {
		return Empty(StatusDisabled, reasonDisabled)
	}

	prober, bundle, ok := r.resolveProber()
	if !ok {
		return bundle
	}

	probeCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := prober.Probe(probeCtx); err != nil {
		return failed(err)
	}

	// Only connectivity is checked today. Price rows, the price summary and
	// news snippets stay empty until the retrieval schema is settled.
	return Empty(StatusOK, reasonOK)
}

func (r *Retriever) resolveProber() (Prober, Bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prober != nil {
		return r.prober, Bundle{}, true
	}
	if r.driver == nil {
		scheme := schemeOf(r.url)
		return nil, Empty(StatusDriverMissing, fmt.Sprintf("%q 스킴을 처리할 DB 드라이버가 없습니다.", scheme)), false
	}
	p, err := r.driver(r.url)
	if err != nil {
		return nil, failed(err), false
	}
	r.prober = p
	return p, Bundle{}, true
}

func failed(err error) Bundle {
	reason, _ := policy.RedactSecrets("DB 연결 실패: " + err.Error())
	log.Printf("evidence store probe failed: %s", reason)
	return Empty(StatusError, reason)
}

func (r *Retriever) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prober == nil {
		return nil
	}
	err := r.prober.Close()
	r.prober = nil
	return err
}
