package priceconn

import (
	"sync"
	"time"

	"tradeconnect/internal/timerservice"
)

// KeepAliveState is a node in the streaming-session keep-alive state
// machine: Idle -> Subscribed -> {Subscribed, PingOutstanding} ->
// Subscribed | Timeout.
type KeepAliveState int

const (
	Idle KeepAliveState = iota
	Subscribed
	PingOutstanding
	Timeout
)

func (s KeepAliveState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribed:
		return "subscribed"
	case PingOutstanding:
		return "ping_outstanding"
	case Timeout:
		return "timeout"
	default:
		return "invalid"
	}
}

// KeepAlive drives the ping/pong keep-alive machinery described for a
// Price Connector's streaming session: on each service tick, a data gap
// longer than dataTimeout arms a ping and a ping timer; a pong or any
// fresh data cancels it; the ping timer firing unanswered surfaces
// on_ping_timeout and invalidates cached data.
type KeepAlive struct {
	dataTimeout time.Duration
	pingTimeout time.Duration
	sendPing    func() error
	onTimeout   func()

	mu         sync.Mutex
	state      KeepAliveState
	lastDataTs time.Time
	pingTimer  *timerservice.Timer
}

// NewKeepAlive constructs a KeepAlive that calls sendPing when a data gap
// exceeds dataTimeout, and onTimeout if pingTimeout then elapses without
// a pong. svc supplies the one-shot ping timer.
func NewKeepAlive(svc *timerservice.Service, dataTimeout, pingTimeout time.Duration, sendPing func() error, onTimeout func()) *KeepAlive {
	k := &KeepAlive{
		dataTimeout: dataTimeout,
		pingTimeout: pingTimeout,
		sendPing:    sendPing,
		onTimeout:   onTimeout,
		state:       Idle,
	}
	k.pingTimer = svc.CreateTimer(k.firePingTimeout)
	return k
}

// OnSubscribed transitions Idle -> Subscribed once the session has
// issued its first subscription, and records now as the most recent
// data arrival so the first Tick doesn't immediately see a stale gap.
func (k *KeepAlive) OnSubscribed(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = Subscribed
	k.lastDataTs = now
}

// OnData records that a data frame arrived at now. If a ping was
// outstanding, the transport stayed alive some other way (a fresh book
// update counts as liveness, same as a pong), so the timer is cancelled
// and the state reverts to Subscribed.
func (k *KeepAlive) OnData(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lastDataTs = now
	if k.state == PingOutstanding {
		k.pingTimer.Stop()
		k.state = Subscribed
	}
}

// OnPong cancels any outstanding ping timer and returns to Subscribed.
func (k *KeepAlive) OnPong(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != PingOutstanding {
		return
	}
	k.pingTimer.Stop()
	k.state = Subscribed
	k.lastDataTs = now
}

// Tick runs the per-service-tick check: if the connector is Subscribed
// and now has gone dataTimeout past the last data arrival with no ping
// already outstanding, it sends a ping and arms the ping timer.
func (k *KeepAlive) Tick(now time.Time) {
	k.mu.Lock()
	if k.state != Subscribed || now.Sub(k.lastDataTs) <= k.dataTimeout {
		k.mu.Unlock()
		return
	}
	k.state = PingOutstanding
	k.mu.Unlock()

	if k.sendPing != nil {
		k.sendPing()
	}
	k.pingTimer.Start(k.pingTimeout)
}

// State returns the current keep-alive state.
func (k *KeepAlive) State() KeepAliveState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

func (k *KeepAlive) firePingTimeout(*timerservice.Timer) {
	k.mu.Lock()
	if k.state != PingOutstanding {
		k.mu.Unlock()
		return
	}
	k.state = Timeout
	k.mu.Unlock()

	if k.onTimeout != nil {
		k.onTimeout()
	}
}
