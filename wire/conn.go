// Package wire implements stream.Transport over any io.ReadWriteCloser
// (concretely a net.Conn), using a length-prefixed JSON framing. It is the
// one concrete transport this module ships, answering the engine's need
// for "a reusable wrapper" around a raw byte stream.
//
// stream never imports wire: the dependency runs one way, preserving the
// engine's transport-agnosticism.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/trace"

	"go.pipeline.dev/core/stream"
)

type kind byte

const (
	kindMessage kind = 1
	kindBody    kind = 2
	kindError   kind = 3
)

// MaxFrameSize bounds a single frame's JSON payload. Chosen the same order
// of magnitude as the teacher's spool append ceiling (broker/append_fsm.go),
// since both exist to keep one misbehaving peer from exhausting memory.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a frame's encoded payload exceeds
// MaxFrameSize, either while writing or while reading.
var ErrFrameTooLarge = errors.New("wire: frame exceeds MaxFrameSize")

type messageHeader[H any] struct {
	Head    H    `json:"head"`
	HasBody bool `json:"has_body"`
}

type bodyPayload[C any] struct {
	// Chunk is nil for the terminating Body frame of a stream.
	Chunk *C `json:"chunk,omitempty"`
}

type errPayload struct {
	Msg string `json:"msg"`
}

type inboundResult[Out, BodyOut any, E error] struct {
	frame stream.Frame[Out, BodyOut, E]
	err   error
}

// Conn implements stream.Transport[Out, BodyOut, In, BodyIn, E] over rwc.
// Reads and writes happen on two background goroutines, bridging the
// underlying blocking io.ReadWriteCloser into the engine's non-blocking
// Poll/Sink model -- the same bridge the teacher builds for its own
// append stream with a buffered chunk channel in append_fsm.go.
type Conn[Out, BodyOut, In, BodyIn any, E error] struct {
	rwc    io.ReadWriteCloser
	newErr func(string) E

	inCh     chan inboundResult[Out, BodyOut, E]
	readDone chan struct{}

	outCh      chan stream.Frame[In, BodyIn, E]
	writeErrCh chan error

	closed    chan struct{}
	closeOnce sync.Once

	id  string
	log *log.Entry
	tr  trace.EventLog
}

// New constructs a Conn over rwc. newErr reconstructs the generic error
// type E from a peer-reported error message when decoding an Error frame;
// for E = error, a simple `errors.New` passes.
func New[Out, BodyOut, In, BodyIn any, E error](rwc io.ReadWriteCloser, newErr func(string) E) *Conn[Out, BodyOut, In, BodyIn, E] {
	var id = ulid.Make().String()
	var c = &Conn[Out, BodyOut, In, BodyIn, E]{
		rwc:        rwc,
		newErr:     newErr,
		inCh:       make(chan inboundResult[Out, BodyOut, E], 1),
		readDone:   make(chan struct{}),
		outCh:      make(chan stream.Frame[In, BodyIn, E], 1),
		writeErrCh: make(chan error, 1),
		closed:     make(chan struct{}),
		id:         id,
		log:        log.WithFields(log.Fields{"pkg": "wire", "conn": id}),
		tr:         trace.NewEventLog("wire.Conn", id),
	}

	go c.readLoop()
	go c.writeLoop()

	return c
}

// Tick is a no-op: Conn's I/O runs on its own goroutines regardless of
// whether the engine calls Tick.
func (c *Conn[Out, BodyOut, In, BodyIn, E]) Tick() {}

// Poll implements stream.Transport.
func (c *Conn[Out, BodyOut, In, BodyIn, E]) Poll() (stream.Frame[Out, BodyOut, E], stream.PollState, error) {
	select {
	case res := <-c.inCh:
		if res.err != nil {
			return stream.Frame[Out, BodyOut, E]{}, stream.NotReady, res.err
		}
		return res.frame, stream.Ready, nil
	default:
	}

	select {
	case <-c.readDone:
		return stream.Frame[Out, BodyOut, E]{}, stream.Done, nil
	default:
		return stream.Frame[Out, BodyOut, E]{}, stream.NotReady, nil
	}
}

// PollReady implements stream.Sink.
func (c *Conn[Out, BodyOut, In, BodyIn, E]) PollReady() bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	return len(c.outCh) == 0
}

// StartSend implements stream.Sink.
func (c *Conn[Out, BodyOut, In, BodyIn, E]) StartSend(f stream.Frame[In, BodyIn, E]) error {
	select {
	case <-c.closed:
		return errors.Wrap(io.ErrClosedPipe, "wire: send on closed connection")
	default:
	}
	select {
	case c.outCh <- f:
		return nil
	default:
		return stream.ErrSlotFull
	}
}

// PollComplete implements stream.Sink: it reports flushed once the write
// goroutine has drained outCh, surfacing any write failure it observed.
func (c *Conn[Out, BodyOut, In, BodyIn, E]) PollComplete() (bool, error) {
	select {
	case err := <-c.writeErrCh:
		return false, errors.Wrap(err, "wire: writing frame")
	default:
	}
	return len(c.outCh) == 0, nil
}

// Close implements stream.Sink, and also stops the read goroutine by
// closing the underlying connection.
func (c *Conn[Out, BodyOut, In, BodyIn, E]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rwc.Close()
		c.tr.Finish()
	})
	return err
}

func (c *Conn[Out, BodyOut, In, BodyIn, E]) readLoop() {
	var r = bufio.NewReader(c.rwc)
	for {
		var frame, err = readFrame[Out, BodyOut, E](r, c.newErr)
		if err != nil {
			if errors.Cause(err) == io.EOF {
				c.log.Debug("read end-of-stream")
				c.tr.Printf("read end-of-stream")
				close(c.readDone)
				return
			}
			c.log.WithField("err", err).Debug("read failed")
			c.tr.Errorf("read failed: %v", err)
			select {
			case c.inCh <- inboundResult[Out, BodyOut, E]{err: err}:
			case <-c.closed:
			}
			return
		}
		c.tr.Printf("read frame kind=%d", frame.Kind)
		select {
		case c.inCh <- inboundResult[Out, BodyOut, E]{frame: frame}:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn[Out, BodyOut, In, BodyIn, E]) writeLoop() {
	var w = bufio.NewWriter(c.rwc)
	for {
		select {
		case <-c.closed:
			return
		case f := <-c.outCh:
			if err := writeFrame(w, f); err != nil {
				c.tr.Errorf("write failed: %v", err)
				select {
				case c.writeErrCh <- err:
				default:
				}
				return
			}
			c.tr.Printf("wrote frame kind=%d", f.Kind)
		}
	}
}

func readFrame[Out, BodyOut any, E error](r *bufio.Reader, newErr func(string) E) (stream.Frame[Out, BodyOut, E], error) {
	var prefix [5]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return stream.Frame[Out, BodyOut, E]{}, err
	}
	var k = kind(prefix[0])
	var n = binary.BigEndian.Uint32(prefix[1:])
	if n > MaxFrameSize {
		return stream.Frame[Out, BodyOut, E]{}, ErrFrameTooLarge
	}

	var payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return stream.Frame[Out, BodyOut, E]{}, errors.Wrap(err, "wire: read frame payload")
	}

	switch k {
	case kindMessage:
		var h messageHeader[Out]
		if err := json.Unmarshal(payload, &h); err != nil {
			return stream.Frame[Out, BodyOut, E]{}, errors.Wrap(err, "wire: unmarshal message header")
		}
		return stream.MessageFrame[Out, BodyOut, E](h.Head, h.HasBody), nil
	case kindBody:
		var b bodyPayload[BodyOut]
		if err := json.Unmarshal(payload, &b); err != nil {
			return stream.Frame[Out, BodyOut, E]{}, errors.Wrap(err, "wire: unmarshal body chunk")
		}
		return stream.BodyFrame[Out, BodyOut, E](b.Chunk), nil
	case kindError:
		var e errPayload
		if err := json.Unmarshal(payload, &e); err != nil {
			return stream.Frame[Out, BodyOut, E]{}, errors.Wrap(err, "wire: unmarshal error frame")
		}
		return stream.ErrorFrame[Out, BodyOut, E](newErr(e.Msg)), nil
	default:
		return stream.Frame[Out, BodyOut, E]{}, errors.Errorf("wire: unrecognized frame kind %d", k)
	}
}

func writeFrame[In, BodyIn any, E error](w *bufio.Writer, f stream.Frame[In, BodyIn, E]) error {
	var payload []byte
	var err error
	var k kind

	switch f.Kind {
	case stream.FrameMessage:
		k = kindMessage
		payload, err = json.Marshal(messageHeader[In]{Head: f.Head, HasBody: f.HasBody})
	case stream.FrameBody:
		k = kindBody
		payload, err = json.Marshal(bodyPayload[BodyIn]{Chunk: f.Chunk})
	case stream.FrameError:
		k = kindError
		payload, err = json.Marshal(errPayload{Msg: f.Err.Error()})
	default:
		return errors.Errorf("wire: unrecognized frame kind %d", f.Kind)
	}
	if err != nil {
		return errors.Wrap(err, "wire: marshal frame")
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var prefix [5]byte
	prefix[0] = byte(k)
	binary.BigEndian.PutUint32(prefix[1:], uint32(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return errors.Wrap(err, "wire: write frame prefix")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: write frame payload")
	}
	return w.Flush()
}
