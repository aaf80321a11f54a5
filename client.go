package lmqttcore

import (
	"github.com/pkg/errors"

	"github.com/gonzalop/lmqttcore/internal/clock"
	"github.com/gonzalop/lmqttcore/internal/idset"
	"github.com/gonzalop/lmqttcore/internal/iobuf"
	"github.com/gonzalop/lmqttcore/internal/store"
	"github.com/gonzalop/lmqttcore/internal/strref"
	"github.com/gonzalop/lmqttcore/internal/wire"
)

// Config supplies every caller-owned resource a Client needs: the two byte
// buffers, the two store backing arrays, the id-set backing array, the
// socket callbacks, the time source, and the inbound-message callbacks. No
// internal allocation happens beyond this point in the hot path.
type Config struct {
	GetTime func() clock.Time
	Read    iobuf.Reader
	Write   iobuf.Writer

	ConnectStoreBuf []store.Entry // capacity must be 1
	MainStoreBuf    []store.Entry
	RXBuf           []byte
	TXBuf           []byte
	IDSetBuf        []uint16

	// Timeout is the default per-entry acknowledgement deadline, in whole
	// seconds; 0 disables it (entries never expire on their own).
	Timeout uint32

	Publish PublishCallbacks
}

// Client drives one MQTT 3.1.1 session's handshake, in-flight bookkeeping,
// and wire codec against caller-supplied I/O, one non-blocking RunOnce step
// at a time.
type Client struct {
	cfg Config

	connectStore *store.Store
	mainStore    *store.Store
	currentStore *store.Store

	ids *idset.Set
	enc *wire.Encoder
	dec *wire.Decoder

	rx *iobuf.Buffer
	tx *iobuf.Buffer

	state             State
	lastErr           error
	pingPending       bool
	priorCleanSession bool
}

// New builds a Client from cfg. The client starts in StateInitial; call
// Connect to begin the handshake.
func New(cfg Config) *Client {
	connectStore := store.New(cfg.ConnectStoreBuf, cfg.GetTime, 0, cfg.Timeout)
	mainStore := store.New(cfg.MainStoreBuf, cfg.GetTime, 0, cfg.Timeout)
	ids := idset.New(cfg.IDSetBuf)

	c := &Client{
		cfg:          cfg,
		connectStore: connectStore,
		mainStore:    mainStore,
		currentStore: connectStore,
		ids:          ids,
		rx:           iobuf.NewBuffer(cfg.RXBuf),
		tx:           iobuf.NewBuffer(cfg.TXBuf),
	}

	c.enc = wire.New(connectStore)
	c.dec = wire.NewDecoder(connectStore, ids, wire.Callbacks{
		AllocateTopic:   cfg.Publish.AllocateTopic,
		AllocatePayload: cfg.Publish.AllocatePayload,
		OnPublish:       cfg.Publish.OnPublish,
		OnPublishDone:   cfg.Publish.OnPublishDone,
		OnConnAck:       c.onConnAck,
		OnPubAckIn:      c.onAckEntry,
		OnPubRecIn:      nil,
		OnPubCompIn:     c.onAckEntry,
		OnSubAck:        c.onSubAck,
		OnUnsubAck:      c.onAckEntry,
		OnPingResp:      c.onPingResp,
	})

	return c
}

// State reports the client's current handshake state.
func (c *Client) State() State { return c.state }

// LastError returns the error that moved the client to StateFailed, if any.
func (c *Client) LastError() error { return c.lastErr }

// ReaderBlockingRef and WriterBlockingRef return the String Reference the
// decoder/encoder is suspended on, for a caller that wants to select on
// application-side stream descriptors instead of polling.
func (c *Client) ReaderBlockingRef() (*strref.Ref, bool) { return c.dec.BlockingRef() }
func (c *Client) WriterBlockingRef() (*strref.Ref, bool) { return c.enc.BlockingRef() }

// Reconfigure swaps the socket callbacks RunOnce drives, for a caller that
// redials a new connection (and its file descriptor) after an EOF or error
// without rebuilding the whole Client and its stores.
func (c *Client) Reconfigure(read iobuf.Reader, write iobuf.Writer) {
	c.cfg.Read = read
	c.cfg.Write = write
}

func (c *Client) now() clock.Time {
	if c.cfg.GetTime == nil {
		return clock.Time{}
	}
	return c.cfg.GetTime()
}

// Finalize transitions the client to FAILED, draining every pending
// completion callback with succeeded=false. Safe to call at any time.
func (c *Client) Finalize() {
	c.connectStore.Flush()
	c.mainStore.Flush()
	c.ids.Clear()
	c.state = StateFailed
	if c.lastErr == nil {
		c.lastErr = errors.New("lmqttcore: finalized")
	}
}

// Reset clears a finalized client back to StateInitial so it can Connect
// again. Only valid from StateFailed.
func (c *Client) Reset() error {
	if c.state != StateFailed {
		return ErrResetWhileNotFailed
	}
	c.connectStore.Flush()
	c.mainStore.Flush()
	c.ids.Clear()
	c.enc.Reset()
	c.dec.Reset()
	c.enc.SetStore(c.connectStore)
	c.dec.SetStore(c.connectStore)
	c.rx.Reset()
	c.tx.Reset()
	c.currentStore = c.connectStore
	c.state = StateInitial
	c.lastErr = nil
	c.pingPending = false
	return nil
}

func (c *Client) fail(err error) {
	if c.state == StateFailed {
		return
	}
	c.lastErr = newProtocolError(c.state, err)
	c.connectStore.Flush()
	c.mainStore.Flush()
	c.state = StateFailed
}

// RunOnce drives one non-blocking step: a keep-alive check, one output
// pass, one input pass, repeated while input produced newly queueable work
// and the connection isn't blocked for write (bounded by the current
// store's capacity so this always returns).
func (c *Client) RunOnce() Status {
	var status Status

	if c.state == StateFailed {
		return StatusError
	}

	bound := c.currentStore.Cap() + 1
	for iter := 0; iter < bound; iter++ {
		c.checkKeepAlive()
		if c.state == StateFailed {
			status |= StatusError
			break
		}

		hadUnsent := c.currentStore.HasCurrent()

		outSt, outActivity, outErr := iobuf.OutputStep(c.tx, c.cfg.Write, c.enc)
		if outActivity {
			c.currentStore.Touch()
		}
		if outSt == iobuf.StatusErr {
			c.fail(outErr)
			status |= StatusError
			break
		}
		status |= translateStatus(outSt, true)
		if outSt == iobuf.StatusEOF {
			c.handleEOF()
		}

		if c.state == StateFailed {
			status |= StatusError
			break
		}

		inSt, inActivity, inErr := iobuf.InputStep(c.rx, c.cfg.Read, c.dec)
		if inActivity {
			c.currentStore.Touch()
		}
		if inSt == iobuf.StatusErr {
			c.fail(inErr)
			status |= StatusError
			break
		}
		status |= translateStatus(inSt, false)
		if inSt == iobuf.StatusEOF {
			c.handleEOF()
		}

		if c.state == StateFailed {
			status |= StatusError
			break
		}

		gotNewWork := !hadUnsent && c.currentStore.HasCurrent()
		blockedForWrite := outSt == iobuf.StatusBlockConn || outSt == iobuf.StatusBlockData
		if !gotNewWork || blockedForWrite {
			break
		}
	}

	if c.state != StateFailed && c.currentStore.IsQueueable() {
		status |= StatusQueueable
	}
	return status
}

func translateStatus(st iobuf.Status, isWrite bool) Status {
	switch st {
	case iobuf.StatusBlockConn:
		if isWrite {
			return StatusWouldBlockConnWR
		}
		return StatusWouldBlockConnRD
	case iobuf.StatusBlockData:
		if isWrite {
			return StatusWouldBlockDataWR
		}
		return StatusWouldBlockDataRD
	case iobuf.StatusEOF:
		if isWrite {
			return StatusEOFWR
		}
		return StatusEOFRD
	default:
		return 0
	}
}

// handleEOF brings the client back to its pre-handshake state after either
// direction's socket reports EOF: the connect store is flushed (any pending
// CONNECT failed), the codecs and buffers reset, and the client returns to
// INITIAL so a fresh Connect can redial.
func (c *Client) handleEOF() {
	if c.state == StateFailed {
		return
	}
	c.connectStore.Flush()
	c.enc.Reset()
	c.dec.Reset()
	c.enc.SetStore(c.connectStore)
	c.dec.SetStore(c.connectStore)
	c.rx.Reset()
	c.tx.Reset()
	c.pingPending = false
	c.state = StateInitial
	c.currentStore = c.connectStore
}

// checkKeepAlive inspects the current store's next deadline: an elapsed
// awaiting-reply entry fails the client outright, while an elapsed
// whole-store keep-alive window enqueues a single PINGREQ (guarded by
// pingPending so it's only ever queued once per window).
func (c *Client) checkKeepAlive() {
	if c.state != StateConnected && c.state != StateConnecting {
		return
	}

	expired, remaining, hasDeadline := c.currentStore.GetTimeout(c.now())
	if expired > 0 {
		c.fail(errors.New("lmqttcore: acknowledgement timeout"))
		return
	}
	if !hasDeadline {
		return
	}
	if remaining.Secs != 0 || remaining.Nsecs != 0 {
		return
	}
	if c.pingPending {
		return
	}

	entry := store.Entry{Kind: store.KindPingReq, Value: &wire.IDOnly{}}
	if c.currentStore.Append(entry) {
		c.pingPending = true
		c.currentStore.Touch()
	}
}

// onConnAck is the decoder's CONNACK notification. A nil connect means the
// popped CONNECT entry carried no *Connect value; its completion is failed
// and there is nothing to transition.
func (c *Client) onConnAck(entry store.Entry, connect *wire.Connect) {
	if connect == nil {
		if entry.OnComplete != nil {
			entry.OnComplete(entry.OnCompleteData, entry.Value, false)
		}
		return
	}

	if connect.ReturnCode != wire.ConnAccepted {
		c.state = StateInitial
		c.enc.Close()
		if entry.OnComplete != nil {
			entry.OnComplete(entry.OnCompleteData, entry.Value, false)
		}
		return
	}

	priorCleanSession := c.priorCleanSession
	c.priorCleanSession = connect.CleanSession

	c.mainStore.SetKeepAlive(uint32(connect.KeepAlive))
	c.enc.SetStore(c.mainStore)
	c.dec.SetStore(c.mainStore)
	c.currentStore = c.mainStore
	c.state = StateConnected

	if priorCleanSession || connect.CleanSession {
		c.mainStore.Flush()
		c.ids.Clear()
	} else {
		c.mainStore.UnmarkAll()
	}

	if entry.OnComplete != nil {
		entry.OnComplete(entry.OnCompleteData, entry.Value, true)
	}
}

func (c *Client) onAckEntry(entry store.Entry) {
	if entry.OnComplete != nil {
		entry.OnComplete(entry.OnCompleteData, entry.Value, true)
	}
}

func (c *Client) onSubAck(entry store.Entry, sa wire.SubAck) {
	if entry.OnComplete != nil {
		entry.OnComplete(entry.OnCompleteData, sa, true)
	}
}

func (c *Client) onPingResp(entry store.Entry) {
	c.pingPending = false
	if entry.OnComplete != nil {
		entry.OnComplete(entry.OnCompleteData, entry.Value, true)
	}
}
