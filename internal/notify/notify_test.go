package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleet-monitor/fueltheft/internal/domain"
)

type flakyRepo struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     int64
}

func (r *flakyRepo) InsertAlert(context.Context, domain.Alert) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return 0, errors.New("connection refused")
	}
	r.next++
	return r.next, nil
}

type recordingPublisher struct {
	name string
	err  error
	got  chan domain.Alert
}

func newRecordingPublisher(name string, err error) *recordingPublisher {
	return &recordingPublisher{name: name, err: err, got: make(chan domain.Alert, 16)}
}

func (p *recordingPublisher) Name() string { return p.name }

func (p *recordingPublisher) Publish(_ context.Context, a domain.Alert) error {
	p.got <- a
	return p.err
}

func (p *recordingPublisher) next(t *testing.T) domain.Alert {
	t.Helper()
	select {
	case a := <-p.got:
		return a
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no alert delivered", p.name)
	}
	return domain.Alert{}
}

func sampleAlert(vehicle string) domain.Alert {
	return domain.Alert{
		VehicleID:       vehicle,
		VehicleName:     "Truck " + vehicle,
		Severity:        domain.SeverityCritical,
		FuelDropPercent: 30,
		PreviousLevel:   90,
		CurrentLevel:    60,
		DurationMinutes: 5,
		Timestamp:       time.Date(2025, time.March, 3, 2, 5, 0, 0, time.UTC),
		Location:        "unknown",
	}
}

func TestFanoutStoresThenBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := newRecordingPublisher("test", nil)
	b := NewBroadcaster(8, nil, pub)
	go b.Run(ctx)

	f := NewFanout(&flakyRepo{}, b, nil)
	stored, err := f.Emit(ctx, sampleAlert("v1"))
	if err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if stored.ID != 1 {
		t.Fatalf("id = %d, want 1", stored.ID)
	}
	if got := pub.next(t); got.ID != 1 || got.VehicleID != "v1" {
		t.Fatalf("delivered %+v", got)
	}
}

func TestFanoutRetriesStoreOnce(t *testing.T) {
	repo := &flakyRepo{failures: 1}
	f := NewFanout(repo, nil, nil)
	f.retryDelay = time.Millisecond

	stored, err := f.Emit(context.Background(), sampleAlert("v1"))
	if err != nil || stored.ID != 1 {
		t.Fatalf("Emit() = %+v, %v", stored, err)
	}
	if repo.calls != 2 {
		t.Fatalf("store called %d times, want 2", repo.calls)
	}

	repo = &flakyRepo{failures: 2}
	f = NewFanout(repo, nil, nil)
	f.retryDelay = time.Millisecond
	if _, err := f.Emit(context.Background(), sampleAlert("v1")); err == nil {
		t.Fatal("expected error after retry failed")
	}
}

func TestBroadcasterIsolatesFailingPublisher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := newRecordingPublisher("bad", errors.New("broker down"))
	good := newRecordingPublisher("good", nil)
	b := NewBroadcaster(8, nil, bad, good)
	go b.Run(ctx)

	a := sampleAlert("v1")
	a.ID = 7
	b.Enqueue(a)

	bad.next(t)
	if got := good.next(t); got.ID != 7 {
		t.Fatalf("good publisher got %+v", got)
	}
}

func TestBroadcasterFlushesOnShutdown(t *testing.T) {
	pub := newRecordingPublisher("test", nil)
	b := NewBroadcaster(8, nil, pub)
	for i := 1; i <= 3; i++ {
		a := sampleAlert("v1")
		a.ID = int64(i)
		b.Enqueue(a)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	if n := len(pub.got); n != 3 {
		t.Fatalf("flushed %d alerts on shutdown, want 3", n)
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	pub := newRecordingPublisher("test", nil)
	b := NewBroadcaster(1, nil, pub)
	b.Enqueue(sampleAlert("v1"))
	b.Enqueue(sampleAlert("v2"))

	if n := len(b.ch); n != 1 {
		t.Fatalf("queue holds %d alerts, want 1", n)
	}
}

type chanSubscriber struct {
	got    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{got: make(chan []byte, 4), closed: make(chan struct{})}
}

func (s *chanSubscriber) Send(p []byte) error {
	s.got <- p
	return nil
}

func (s *chanSubscriber) Close() { s.once.Do(func() { close(s.closed) }) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubFiltersByVehicle(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	all := newChanSubscriber()
	onlyV2 := newChanSubscriber()
	h.Register(all, "")
	h.Register(onlyV2, "v2")
	waitFor(t, func() bool { return h.Len() == 2 })

	if err := h.Publish(context.Background(), sampleAlert("v1")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := h.Publish(context.Background(), sampleAlert("v2")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	// Publish returns once the hub took the message; the second publish
	// can only be taken after the first was fanned out.
	if n := len(all.got); n < 1 {
		t.Fatalf("unfiltered client got %d messages", n)
	}
	waitFor(t, func() bool { return len(all.got) == 2 })

	payload := <-onlyV2.got
	var a domain.Alert
	if err := json.Unmarshal(payload, &a); err != nil || a.VehicleID != "v2" {
		t.Fatalf("filtered client got %s (%v)", payload, err)
	}
	if len(onlyV2.got) != 0 {
		t.Fatal("filtered client received another vehicle's alert")
	}

	h.Close()
	<-all.closed
	if err := h.Publish(context.Background(), sampleAlert("v1")); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("Publish after Close = %v", err)
	}
}

func TestHubStreamsOverWebsocket(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(conn, nil)
		h.Register(c, r.URL.Query().Get("vehicle"))
		c.ReadUntilClosed()
		h.Unregister(c)
		c.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return h.Len() == 1 })

	want := sampleAlert("v9")
	want.ID = 42
	if err := h.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Alert
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != 42 || got.VehicleID != "v9" || got.Severity != domain.SeverityCritical {
		t.Fatalf("received %+v", got)
	}

	conn.Close()
	waitFor(t, func() bool { return h.Len() == 0 })
}

func TestAlertTopic(t *testing.T) {
	tests := []struct{ root, vehicle, want string }{
		{"fleet", "v1", "fleet/alerts/v1"},
		{"fleet/", "v1", "fleet/alerts/v1"},
		{"", "v1", "alerts/v1"},
	}
	for _, tt := range tests {
		if got := AlertTopic(tt.root, tt.vehicle); got != tt.want {
			t.Errorf("AlertTopic(%q, %q) = %q, want %q", tt.root, tt.vehicle, got, tt.want)
		}
	}
}

func TestMQTTAwaitConnectionFailsWithoutBroker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Nothing listens on port 1.
	mq, err := NewMQTTPublisher(ctx, MQTTConfig{Broker: "mqtt://127.0.0.1:1", ClientID: "fueltheft-test"}, nil)
	if err != nil {
		t.Fatalf("NewMQTTPublisher() error: %v", err)
	}

	waitCtx, stop := context.WithTimeout(ctx, 100*time.Millisecond)
	defer stop()
	if err := mq.AwaitConnection(waitCtx); err == nil {
		t.Fatal("AwaitConnection() succeeded without a broker")
	}
}
