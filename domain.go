// Package stm implements a word-based software transactional memory
// runtime: a TL2-style engine (global version clock, per-cell versioned
// spinlocks, thread-local read/write sets, two-phase commit) paired with
// epoch-based deferred reclamation, so that many goroutines can run
// speculative critical sections over shared Var/VarWord cells with strict
// serializability and no lock held across user code.
//
// Grounded on github.com/tiancaiamao/stm's Atomically/Txn/Var/VersionClock,
// generalized with goroutine epoch tracking and bounded reclamation per
// original_source's lstm (mtak-/lstm), and on Jekaa-go-mvcc-map's
// functional-options/slog/context idiom for everything outside the core
// algorithm.
package stm

import (
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/mnohosten/go-stm/clock"
	"github.com/mnohosten/go-stm/internal/epoch"
)

// DefaultReclaimLimit is the minimum ring occupancy (spec section 4.E's
// RECLAIM_LIMIT) before a committing goroutine attempts a
// synchronize-and-drain pass, ported from the original's default
// ReclaimLimit template argument.
const DefaultReclaimLimit = 1024

type config struct {
	reclaimLimit   int
	backoffFactory BackoffFactory
	logger         *slog.Logger
	htmEnabled     bool
	padThreadData  bool
}

func defaultConfig() config {
	return config{
		reclaimLimit:   DefaultReclaimLimit,
		backoffFactory: defaultBackoffFactory,
		logger:         slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		padThreadData:  true,
	}
}

// Option configures a Domain at construction time. Each option corresponds
// to one row of the configuration-knob table in spec section 6.
type Option func(*config)

// WithReclaimLimit sets the minimum reclamation ring occupancy before a
// synchronize/drain attempt.
func WithReclaimLimit(n int) Option {
	return func(c *config) { c.reclaimLimit = n }
}

// WithBackoff sets the factory used to produce a fresh Backoff for each
// spin loop (write-lock CAS retries and reclamation synchronization).
func WithBackoff(f BackoffFactory) Option {
	return func(c *config) { c.backoffFactory = f }
}

// WithLogger sets the *slog.Logger stored in the Domain's configuration.
// No code in this package writes to it: registration, retries and
// reclamation are not logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithHTM is a documented no-op today: it exists so that callers compile
// against the same surface the original library exposes (HTM opt-in
// wraps the commit in a hardware transaction, falling back to software
// commit on abort). Go has no portable hardware-transactional-memory
// intrinsic, so the software commit path described in spec section 4.F
// always runs; this option is reserved for a future build-tagged
// implementation on platforms that expose one.
func WithHTM(enabled bool) Option {
	return func(c *config) { c.htmEnabled = enabled }
}

// WithCacheLinePadding records whether pooled ThreadData blocks should be
// padded to the cache line size. The setting (true by default) is stored
// but has no effect: ThreadData always ends in a golang.org/x/sys/cpu
// CacheLinePad, whose size is fixed per architecture, so blocks are
// padded whatever value is passed.
func WithCacheLinePadding(enabled bool) Option {
	return func(c *config) { c.padThreadData = enabled }
}

// Domain is the combination of a version clock and a thread (goroutine)
// registry: the scope within which transactions are serializable, per spec
// section 9's design note. Multiple independent Domains may coexist so
// long as no Var/VarWord belongs to more than one.
type Domain struct {
	clock    clock.Clock
	registry epoch.Registry
	cfg      config

	pool sync.Pool

	mu  sync.Mutex
	all []*ThreadData // every ThreadData ever minted, for Close's final drain
}

// NewDomain creates a Domain ready for use.
func NewDomain(opts ...Option) *Domain {
	d := &Domain{cfg: defaultConfig()}
	for _, o := range opts {
		o(&d.cfg)
	}
	d.pool.New = func() any { return d.newThreadData() }
	return d
}

// txKind is the transaction-tag state machine from spec section 4.F.
type txKind uint8

const (
	txNone txKind = iota
	txReadOnly
	txReadWrite
)

// ThreadData is one participating goroutine's speculative-execution
// scratch space: read/write sets, fail-callback list, and a reclamation
// ring, plus the epoch slot it publishes into the Domain's registry. It is
// never allocated by user code - Domain.acquire lazily installs one from a
// sync.Pool on first use, the Go idiom for what the original implements as
// genuine thread-local storage (Go has no portable, goroutine-stable TLS
// primitive; sync.Pool already shards per-P, which gives the same
// no-cross-thread-contention property the original's thread_data block is
// after).
type ThreadData struct {
	domain *Domain
	slot   *epoch.Slot

	kind txKind
	rv   clock.Stamp

	rs   readSet
	ws   writeSet
	wws  wordWriteSet
	fail []func()

	// reclMu guards recl. Ordinarily only the owning goroutine ever touches
	// its own ring, from inside commit - but a Future (see future.go) may be
	// waited on from a different goroutine than the one that created it,
	// exactly as original_source's privatized_future_data::wait calls the
	// creating thread's thread_data::reclaim from whichever goroutine is
	// blocked on Get, so the ring must tolerate that cross-goroutine drain.
	reclMu sync.Mutex
	recl   reclaimRing

	_ cpu.CacheLinePad // avoids false sharing between pooled blocks
}

func (d *Domain) newThreadData() *ThreadData {
	td := &ThreadData{
		domain: d,
		slot:   epoch.NewSlot(),
		rs:     newReadSet(),
		ws:     newWriteSet(),
		wws:    newWordWriteSet(),
		recl:   newReclaimRing(),
	}
	d.registry.Register(td.slot)

	d.mu.Lock()
	d.all = append(d.all, td)
	d.mu.Unlock()

	return td
}

func (d *Domain) acquire() *ThreadData {
	return d.pool.Get().(*ThreadData)
}

func (d *Domain) release(td *ThreadData) {
	td.kind = txNone
	d.pool.Put(td)
}

func (d *Domain) newBackoff() Backoff {
	return d.cfg.backoffFactory()
}

// Close deregisters every ThreadData this Domain ever minted and performs a
// final synchronize-and-drain so that no deferred callback is left
// unreclaimed, matching the "no-leak" property in spec section 8. It must
// only be called once every goroutine that might still call Atomically or
// ReadOnly against this Domain has stopped doing so.
func (d *Domain) Close() {
	d.mu.Lock()
	all := d.all
	d.all = nil
	d.mu.Unlock()

	for _, td := range all {
		d.registry.Deregister(td.slot)
	}

	for _, td := range all {
		d.synchronizeAndDrain(td)
	}
}

// forceReclaim drives one synchronize-and-drain pass across every
// ThreadData this Domain has ever minted, without deregistering any of
// them. Atomically/ReadOnly never need this - their own commits trigger it
// once the ring crosses cfg.reclaimLimit - but a Future waiting on a
// value staged behind a quiet ThreadData's reclamation ring needs a way to
// make progress even if nobody else happens to commit again soon.
func (d *Domain) forceReclaim() {
	d.mu.Lock()
	all := append([]*ThreadData(nil), d.all...)
	d.mu.Unlock()

	for _, td := range all {
		d.synchronizeAndDrain(td)
	}
}

// synchronizeAndDrain waits for every registered slot to pass td's oldest
// finalized chunk's epoch (spec section 4.E step 1's synchronize target -
// the oldest chunk still waiting to be reclaimed, not the most recent
// commit version, which would make every synchronize wait on readers that
// couldn't possibly still be touching the values in question) and then
// drains whatever that makes safe to free. A no-op if td has no finalized
// chunk to reclaim.
func (d *Domain) synchronizeAndDrain(td *ThreadData) {
	td.reclMu.Lock()
	target, ok := td.recl.oldestFinalizedEpoch()
	td.reclMu.Unlock()
	if !ok {
		return
	}

	min := d.registry.SynchronizeMinEpoch(target, d.newBackoff())
	td.drainLocked(min)
}

// drainLocked drains the reclamation ring under reclMu, making it safe to
// call from any goroutine, not just the ThreadData's owner.
func (td *ThreadData) drainLocked(min clock.Stamp) {
	td.reclMu.Lock()
	td.recl.drain(min)
	td.reclMu.Unlock()
}
