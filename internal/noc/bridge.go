// Package noc is the software side of the ReconOS NoC bridge. A Bridge packs
// outgoing packets into a shared ring, batches the offset handshakes with the
// hardware peer, unpacks the word stream coming back, and hands received
// packets to registered handlers. Any worker fault tears the whole bridge
// down.
package noc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/banshee-data/nocbridge/internal/config"
	"github.com/banshee-data/nocbridge/internal/hwt"
	"github.com/banshee-data/nocbridge/internal/mailbox"
	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/packet"
	"github.com/banshee-data/nocbridge/internal/ring"
	"github.com/banshee-data/nocbridge/internal/timeutil"
)

// State is the lifecycle state of a Bridge.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Bridge at Init.
type Option func(*Bridge)

// WithClock replaces the clock used by the batching timer.
func WithClock(c timeutil.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithObserver adds an event observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observers = append(b.observers, o) }
}

// Bridge is a running NoC interface. All methods are safe for concurrent use.
type Bridge struct {
	settings  config.Settings
	codec     packet.Codec
	clock     timeutil.Clock
	observers observers
	stats     counters

	ctx  context.Context
	kill context.CancelFunc
	wg   sync.WaitGroup

	send      *sendPath
	recv      *recvPath
	handlers  *registry
	mailboxes []*mailbox.Mailbox

	mu     sync.Mutex
	state  State
	faults *multierror.Error
	done   chan struct{}
}

// Init allocates both directions, starts the hardware threads through
// launcher and starts every worker. ctx bounds the startup handshake only;
// the bridge runs until Stop or a fault.
func Init(ctx context.Context, settings config.Settings, launcher hwt.Launcher, opts ...Option) (*Bridge, error) {
	if launcher == nil {
		return nil, fmt.Errorf("%w: nil launcher", ErrInvalidArgument)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	codec, err := packet.NewCodec(settings.HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	b := &Bridge{
		settings: settings,
		codec:    codec,
		clock:    timeutil.RealClock{},
		handlers: newRegistry(settings.MaxHandlers),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ctx, b.kill = context.WithCancel(context.Background())
	if settings.Verbose {
		monitoring.SetVerbose(true)
	}

	if err := b.initSendPath(ctx, launcher); err != nil {
		b.abortInit()
		return nil, fmt.Errorf("%w: sw2hw: %v", ErrResourceInit, err)
	}
	if err := b.initRecvPath(ctx, launcher); err != nil {
		b.abortInit()
		return nil, fmt.Errorf("%w: hw2sw: %v", ErrResourceInit, err)
	}

	go b.control()
	monitoring.Logf("[noc] bridge running: ring=%d bytes, mailbox depth=%d, batch timeout=%s, almost-full threshold=%d",
		settings.RingBufferSize, settings.MailboxSize, settings.BatchTimeout, settings.AlmostFullThreshold)
	return b, nil
}

func (b *Bridge) newMailbox() (*mailbox.Mailbox, error) {
	m, err := mailbox.New(b.settings.MailboxSize)
	if err != nil {
		return nil, err
	}
	b.mailboxes = append(b.mailboxes, m)
	return m, nil
}

func (b *Bridge) newMailboxPair() (toHW, fromHW *mailbox.Mailbox, err error) {
	if toHW, err = b.newMailbox(); err != nil {
		return nil, nil, err
	}
	if fromHW, err = b.newMailbox(); err != nil {
		return nil, nil, err
	}
	return toHW, fromHW, nil
}

// launch starts one hardware thread and sends it the ring geometry.
func (b *Bridge) launch(ctx context.Context, launcher hwt.Launcher, slot hwt.Slot, r *ring.Ring, toHW, fromHW *mailbox.Mailbox) error {
	res := hwt.Resources{ToHW: toHW, FromHW: fromHW, Ring: r.Bytes()}
	if err := launcher.Launch(b.ctx, slot, res); err != nil {
		return fmt.Errorf("launch %s: %w", slot, err)
	}
	if err := toHW.Put(ctx, uint32(r.Capacity()/4)); err != nil {
		return fmt.Errorf("ring handshake with %s: %w", slot, err)
	}
	return nil
}

func (b *Bridge) initSendPath(ctx context.Context, launcher hwt.Launcher) error {
	r, err := ring.New(b.settings.RingBufferSize, b.settings.SafetyMargin, b.codec)
	if err != nil {
		return err
	}
	toHW, fromHW, err := b.newMailboxPair()
	if err != nil {
		return err
	}
	b.send = newSendPath(packet.NewQueue(b.settings.MaxQueuedPackets), r, toHW, fromHW, b.clock,
		b.settings.BatchTimeout, b.settings.AlmostFullThreshold, b.observers, &b.stats)

	if err := b.launch(ctx, launcher, hwt.SlotSend, r, toHW, fromHW); err != nil {
		return err
	}
	b.spawn("sw2hw exchange", b.send.runExchange)
	b.spawn("sw2hw timer", b.send.runTimer)
	b.spawn("sw2hw packer", b.send.runPacker)
	return nil
}

func (b *Bridge) initRecvPath(ctx context.Context, launcher hwt.Launcher) error {
	r, err := ring.New(b.settings.RingBufferSize, 0, b.codec)
	if err != nil {
		return err
	}
	toHW, fromHW, err := b.newMailboxPair()
	if err != nil {
		return err
	}
	b.recv = &recvPath{
		ring:      r,
		toHW:      toHW,
		fromHW:    fromHW,
		queue:     packet.NewQueue(0),
		decoder:   packet.NewStreamDecoder(b.codec, b.codec.RecordLen(b.settings.MaxPayloadSize)),
		handlers:  b.handlers,
		observers: b.observers,
		stats:     &b.stats,
	}

	if err := b.launch(ctx, launcher, hwt.SlotReceive, r, toHW, fromHW); err != nil {
		return err
	}
	b.spawn("hw2sw unpacker", b.recv.runUnpacker)
	b.spawn("hw2sw dispatcher", b.recv.runDispatcher)
	return nil
}

// abortInit tears down whatever Init managed to start.
func (b *Bridge) abortInit() {
	b.kill()
	b.closeMailboxes()
	b.wg.Wait()
	if b.send != nil {
		b.send.release()
	}
	if b.recv != nil {
		b.recv.release()
	}
	b.setState(StateTerminated)
	close(b.done)
}

// spawn runs fn under supervision. Any exit other than cancellation is
// recorded as a fault and raises the kill signal.
func (b *Bridge) spawn(name string, fn func(context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.workerExited(name, b.runWorker(fn))
	}()
}

func (b *Bridge) runWorker(fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrWorkerFault, r)
		}
	}()
	return fn(b.ctx)
}

func (b *Bridge) isCancellation(err error) bool {
	if b.ctx.Err() == nil {
		return false
	}
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, mailbox.ErrClosed)
}

func (b *Bridge) workerExited(name string, err error) {
	if b.isCancellation(err) {
		monitoring.Debugf("[noc] %s terminated due to cancellation", name)
		return
	}
	if err == nil {
		err = errUnexpectedExit
	}
	monitoring.Logf("[noc] %s terminated abnormally: %v", name, err)
	b.mu.Lock()
	b.faults = multierror.Append(b.faults, fmt.Errorf("%s: %w", name, err))
	b.mu.Unlock()
	b.kill()
}

func (b *Bridge) closeMailboxes() {
	for _, m := range b.mailboxes {
		m.Close()
	}
}

// control waits for the kill signal, then joins every worker and releases
// both directions.
func (b *Bridge) control() {
	<-b.ctx.Done()
	b.setState(StateShuttingDown)
	monitoring.Logf("[noc] shutting down")

	b.closeMailboxes()
	b.wg.Wait()

	dropped := b.send.release()
	dropped += b.recv.release()
	if dropped > 0 {
		monitoring.Logf("[noc] dropped %d queued packets at shutdown", dropped)
	}

	if err := b.Err(); err != nil {
		monitoring.Logf("[noc] terminated with faults: %v", err)
	} else {
		monitoring.Logf("[noc] terminated")
	}
	b.setState(StateTerminated)
	close(b.done)
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed once the bridge has terminated.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the aggregated worker faults, or nil after a clean shutdown.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults.ErrorOrNil()
}

// Shutdown raises the kill signal and returns at once. Unlike Stop it is safe
// to call from a PacketHandler; wait on Done for termination.
func (b *Bridge) Shutdown() {
	if b == nil {
		return
	}
	b.kill()
}

// Stop raises the kill signal and waits until every worker has been joined
// and both rings released. It returns the aggregated worker faults. Stop
// must not be called from a PacketHandler: it would wait on the dispatcher
// running that handler. Handlers use Shutdown instead.
func (b *Bridge) Stop() error {
	if b == nil {
		return fmt.Errorf("%w: nil bridge", ErrInvalidArgument)
	}
	b.kill()
	<-b.done
	return b.Err()
}

// SendPacket queues p for the send ring. Ownership of p passes to the
// bridge; the caller must not modify it afterwards.
func (b *Bridge) SendPacket(p *packet.Packet) error {
	if b == nil {
		return fmt.Errorf("%w: nil bridge", ErrInvalidArgument)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if len(p.Payload) > b.settings.MaxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds max %d", ErrInvalidArgument, len(p.Payload), b.settings.MaxPayloadSize)
	}
	if b.ctx.Err() != nil {
		return ErrClosed
	}
	if err := b.send.queue.Add(p); err != nil {
		switch {
		case errors.Is(err, packet.ErrQueueFull):
			return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		case errors.Is(err, packet.ErrQueueClosed):
			// Shutdown began after the context check above.
			return ErrClosed
		}
		return err
	}
	b.stats.submitted.Add(1)
	return nil
}

// RegisterPacketHandler appends h to the receive handlers.
func (b *Bridge) RegisterPacketHandler(h PacketHandler) (HandlerID, error) {
	if b == nil {
		return "", fmt.Errorf("%w: nil bridge", ErrInvalidArgument)
	}
	if h == nil {
		return "", fmt.Errorf("%w: nil handler", ErrInvalidArgument)
	}
	if b.ctx.Err() != nil {
		return "", ErrClosed
	}
	id, err := b.handlers.register(h)
	if err != nil {
		return "", fmt.Errorf("%w: %d handlers registered", err, b.settings.MaxHandlers)
	}
	return id, nil
}

// UnregisterPacketHandler removes a handler. It reports whether id was found.
func (b *Bridge) UnregisterPacketHandler(id HandlerID) bool {
	if b == nil {
		return false
	}
	return b.handlers.unregister(id)
}

// Settings returns the configuration the bridge was started with.
func (b *Bridge) Settings() config.Settings {
	return b.settings
}

// Codec returns the record codec in use.
func (b *Bridge) Codec() packet.Codec {
	return b.codec
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	var s Stats
	b.stats.fill(&s)
	s.State = b.State().String()
	s.TimerArmed = b.send.timerArmed()
	s.SendQueueLen = b.send.queue.Len()
	s.ReceiveQueueLen = b.recv.queue.Len()
	s.Handlers = b.handlers.len()
	s.SendRing = b.send.snapshot()
	return s
}

// DumpRings writes a hex dump of both rings.
func (b *Bridge) DumpRings(w io.Writer) error {
	if _, err := io.WriteString(w, "sw2hw ring:\n"); err != nil {
		return err
	}
	if err := b.send.dump(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "hw2sw ring:\n"); err != nil {
		return err
	}
	return b.recv.dump(w)
}
