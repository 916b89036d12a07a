package ofconn

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/nyflow/state"
)

type closeRequest struct {
	sw     *Switch
	reason error
}

// worker runs one event loop. Every switch assigned to it is read, flushed,
// decoded and dispatched on the worker's goroutine only.
type worker struct {
	idx    int
	ctrl   *Controller
	log    *slog.Logger
	poller *poller

	// owned by the loop goroutine
	switches  map[int]*Switch
	readBuf   []byte
	lastSweep time.Time

	mu       sync.Mutex
	pending  []*Switch
	closing  []closeRequest
	exited   bool
	stopping atomic.Bool
}

func newWorker(c *Controller, idx int, p *poller) *worker {
	return &worker{
		idx:      idx,
		ctrl:     c,
		log:      c.log.With("worker", idx),
		poller:   p,
		switches: make(map[int]*Switch),
		readBuf:  make([]byte, state.ReadBufferSize),
	}
}

// register hands a freshly accepted switch to this worker. Called from the listen loop.
// A switch handed to a worker that already shut down is closed on the spot.
func (w *worker) register(sw *Switch) {
	w.mu.Lock()
	if w.exited {
		w.mu.Unlock()
		w.discard(sw)
		return
	}
	w.pending = append(w.pending, sw)
	w.mu.Unlock()
	w.wakeup()
}

// discard closes a switch that never joined the loop
func (w *worker) discard(sw *Switch) {
	sw.mu.Lock()
	if sw.closed {
		sw.mu.Unlock()
		return
	}
	sw.closed = true
	closeFd(sw.fd)
	sw.outbuf.Reset()
	sw.mu.Unlock()

	sw.stopRequirements()
	w.ctrl.switchClosed(sw, ErrControllerStopped)
}

// requestClose schedules a teardown on the worker goroutine. Safe from any goroutine.
func (w *worker) requestClose(sw *Switch, reason error) {
	w.mu.Lock()
	w.closing = append(w.closing, closeRequest{sw, reason})
	w.mu.Unlock()
	w.wakeup()
}

func (w *worker) stop() {
	w.stopping.Store(true)
	w.wakeup()
}

func (w *worker) wakeup() {
	if err := w.poller.wake(); err != nil {
		w.log.Error("failed to wake worker", "error", err)
	}
}

func (w *worker) run() {
	defer w.ctrl.loops.Done()
	w.log.Debug("worker started")
	for !w.stopping.Load() {
		w.drainQueues()
		if err := w.poller.wait(w.ctrl.cfg.PollTimeout, w.handleEvent); err != nil {
			w.log.Error("worker loop failed", "error", err)
			break
		}
		w.checkLiveness(time.Now())
	}
	w.shutdown()
	w.log.Debug("worker stopped")
}

func (w *worker) drainQueues() {
	w.mu.Lock()
	pending, closing := w.pending, w.closing
	w.pending, w.closing = nil, nil
	w.mu.Unlock()

	for _, sw := range pending {
		sw.mu.Lock()
		in := readable
		if sw.outbuf.Len() > 0 {
			in = writable
		}
		err := w.poller.add(sw.fd, in)
		if err == nil {
			sw.registered = true
			sw.interest = in
		}
		sw.mu.Unlock()

		w.switches[sw.fd] = sw
		if err != nil {
			w.teardown(sw, err)
			continue
		}
		w.log.Debug("switch registered", "remote", sw.remote, "session", sw.session)
	}
	for _, req := range closing {
		if w.switches[req.sw.fd] == req.sw {
			w.teardown(req.sw, req.reason)
		}
	}
}

func (w *worker) handleEvent(fd int, ready interest) {
	sw, ok := w.switches[fd]
	if !ok {
		return
	}
	if ready&readable != 0 {
		eof, err := sw.fill(w.readBuf)
		if err != nil {
			w.teardown(sw, err)
			return
		}
		if err := w.ctrl.processInbound(sw); err != nil {
			w.teardown(sw, err)
			return
		}
		if eof {
			// best effort: anything queued in response to the final messages
			_ = sw.flush()
			w.teardown(sw, io.EOF)
			return
		}
	}
	if ready&writable != 0 {
		if err := sw.flush(); err != nil {
			w.teardown(sw, err)
			return
		}
	}

	sw.mu.Lock()
	err := sw.updateInterestLocked()
	sw.mu.Unlock()
	if err != nil {
		w.teardown(sw, err)
	}
}

// checkLiveness probes idle switches with echo requests and drops dead ones
func (w *worker) checkLiveness(now time.Time) {
	if now.Sub(w.lastSweep) < w.ctrl.cfg.PollTimeout {
		return
	}
	w.lastSweep = now
	keepAlive, dead := w.ctrl.cfg.KeepAlive, w.ctrl.cfg.DeadThreshold

	for _, sw := range w.switches {
		idle := now.Sub(sw.LastSeen())
		if dead > 0 && idle > dead {
			w.teardown(sw, ErrSwitchTimeout)
			continue
		}
		if keepAlive > 0 && idle > keepAlive && now.Sub(sw.lastEcho) > keepAlive {
			sw.lastEcho = now
			if err := sw.Write(newHeaderMsg(sw.Version(), TypeEchoRequest, sw.NextXid())); err != nil {
				w.teardown(sw, err)
			}
		}
	}
}

// teardown cancels the registration, closes the socket and removes the switch from every index
func (w *worker) teardown(sw *Switch, reason error) {
	sw.mu.Lock()
	if sw.closed {
		sw.mu.Unlock()
		return
	}
	sw.closed = true
	if sw.registered {
		if err := w.poller.remove(sw.fd); err != nil {
			w.log.Debug("failed to unregister switch", "switch", sw, "error", err)
		}
		sw.registered = false
	}
	closeFd(sw.fd)
	sw.outbuf.Reset()
	sw.mu.Unlock()

	if w.switches[sw.fd] == sw {
		delete(w.switches, sw.fd)
	}
	sw.stopRequirements()
	w.ctrl.switchClosed(sw, reason)
}

func (w *worker) shutdown() {
	w.mu.Lock()
	pending := w.pending
	w.pending, w.closing = nil, nil
	w.exited = true
	w.mu.Unlock()

	for _, sw := range pending {
		w.switches[sw.fd] = sw
	}
	for _, sw := range w.switches {
		w.teardown(sw, ErrControllerStopped)
	}
	w.poller.close()
}
