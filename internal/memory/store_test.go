package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestAbsentHandleIsInert(t *testing.T) {
	ctx := context.Background()
	h := Absent()
	if h.Live() {
		t.Fatalf("Absent().Live() = true")
	}
	if got := h.Read(ctx, "s1"); len(got) != 0 {
		t.Fatalf("Read() = %+v, want empty", got)
	}
	if h.Write(ctx, "s1", []Turn{{Role: RoleUser, Content: "x"}}, time.Hour) {
		t.Fatalf("Write() on absent handle = true")
	}
	if h.Clear(ctx, "s1") {
		t.Fatalf("Clear() on absent handle = true")
	}
}

func TestConnectorWithoutURLIsAbsent(t *testing.T) {
	c := NewConnector("  ", time.Second)
	if c.Configured() {
		t.Fatalf("Configured() = true for empty url")
	}
	if c.Connect(context.Background()).Live() {
		t.Fatalf("Connect() returned live handle for empty url")
	}
}

func TestConnectorUnsupportedSchemeIsAbsent(t *testing.T) {
	c := NewConnector("mongodb://localhost", time.Second)
	if c.Configured() {
		t.Fatalf("Configured() = true for unsupported scheme")
	}
	if c.Reason() == "" {
		t.Fatalf("Reason() should explain the unsupported scheme")
	}
}

func TestConnectorUnreachableRedisIsAbsent(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	c := NewConnector("redis://"+addr+"/0", 200*time.Millisecond)
	defer c.Close()
	start := time.Now()
	h := c.Connect(context.Background())
	if h.Live() {
		t.Fatalf("Connect() returned live handle for closed server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Connect() took %v, want a fast degrade", elapsed)
	}
}

func TestRedisRoundTripWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewConnector("redis://"+mr.Addr()+"/0", time.Second)
	defer c.Close()

	ctx := context.Background()
	h := c.Connect(ctx)
	if !h.Live() {
		t.Fatalf("Connect() returned absent handle for running server")
	}

	turns := []Turn{{Role: RoleUser, Content: "금값 알려줘"}, {Role: RoleAssistant, Content: "오를 수 있습니다"}}
	if !h.Write(ctx, "s1", turns, 24*time.Hour) {
		t.Fatalf("Write() = false")
	}
	if ttl := mr.TTL(HistoryKey("s1")); ttl != 24*time.Hour {
		t.Fatalf("TTL = %v, want 24h", ttl)
	}

	got := h.Read(ctx, "s1")
	if len(got) != 2 || got[0] != turns[0] || got[1] != turns[1] {
		t.Fatalf("Read() = %+v, want %+v", got, turns)
	}

	if !h.Clear(ctx, "s1") {
		t.Fatalf("Clear() = false")
	}
	if got := h.Read(ctx, "s1"); len(got) != 0 {
		t.Fatalf("Read() after Clear = %+v, want empty", got)
	}
}

func TestReadDropsMalformedEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewConnector("redis://"+mr.Addr(), time.Second)
	defer c.Close()

	raw := `[{"role":"user","content":"hi"},{"role":"system","content":"x"},{"role":"assistant"},` +
		`"junk",{"role":"assistant","content":5},{"role":"assistant","content":"hello"}]`
	if err := mr.Set(HistoryKey("s1"), raw); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mr.Set(HistoryKey("s2"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mr.Set(HistoryKey("s3"), `{"role":"user","content":"hi"}`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h := c.Connect(context.Background())
	got := h.Read(context.Background(), "s1")
	want := []Turn{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}
	if len(got) != len(want) {
		t.Fatalf("Read() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Read()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	for _, sid := range []string{"s2", "s3", "missing"} {
		if got := h.Read(context.Background(), sid); len(got) != 0 {
			t.Fatalf("Read(%s) = %+v, want empty", sid, got)
		}
	}
}

func TestInMemoryBackendExpiry(t *testing.T) {
	b := NewInMemoryBackend()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	h := Live(b)
	ctx := context.Background()

	if !h.Write(ctx, "s1", []Turn{{Role: RoleUser, Content: "a"}}, time.Minute) {
		t.Fatalf("Write() = false")
	}
	if got := h.Read(ctx, "s1"); len(got) != 1 {
		t.Fatalf("Read() before expiry = %+v", got)
	}
	now = now.Add(time.Minute)
	if got := h.Read(ctx, "s1"); len(got) != 0 {
		t.Fatalf("Read() after expiry = %+v, want empty", got)
	}
}

func TestTruncateKeepsMostRecent(t *testing.T) {
	var turns []Turn
	for i := 0; i < 10; i++ {
		turns = append(turns, Turn{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	got := Truncate(turns, 4)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i, turn := range got {
		if want := fmt.Sprintf("m%d", 6+i); turn.Content != want {
			t.Fatalf("got[%d] = %q, want %q", i, turn.Content, want)
		}
	}
	if short := Truncate(turns[:2], 4); len(short) != 2 {
		t.Fatalf("Truncate() shortened a list under the cap")
	}
}
