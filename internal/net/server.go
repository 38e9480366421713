package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"hati/internal/engine"
	"hati/internal/utils"
)

const (
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Minute
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn      net.Conn
	writeLock *sync.Mutex
}

// Server is the request/response front end over the matching engine. It owns
// no matching state; every request is decoded, handed to the engine and the
// full result encoded back, fills included.
type Server struct {
	address            string
	port               int
	engine             *engine.MatchingEngine
	pool               utils.WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex
}

func New(address string, port int, eng *engine.MatchingEngine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]*ClientSession),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")
			// Add the client to client sessions we are tracking.
			// We expect to potentially maintain a long TCP session.
			s.addClientSession(conn)

			// Pass over the connection to be read from.
			s.pool.AddTask(conn)
		}
	}
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection, dispatches it to the engine and writes the
// response back, then requeues the connection for its next message. If the
// connection dies, the client session is cleaned up.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("address", conn.RemoteAddr().String()).
			Err(err).
			Msg("failed setting deadline for connection")
		s.dropClientSession(conn)
		return nil
	}

	select {
	case <-t.Dying():
		return nil
	default:
		message, err := ReadMessage(conn)
		switch {
		case isProtocolError(err):
			// The stream itself is intact; reject the request and carry on.
			// The parsed header still names the operation, so the error is
			// acked as whatever the client attempted.
			log.Error().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("error parsing message")
			s.respond(conn, encodeError(ackTypeOf(message.GetType()), StatusBadRequest, err.Error()))
		case err != nil:
			// If a read from a client fails, the client has most likely
			// exited. Clean up the client session.
			log.Info().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("closing connection")
			s.dropClientSession(conn)
			return nil
		default:
			s.respond(conn, s.dispatch(message))
		}

		// Push the client connection back to handle the next message.
		s.pool.AddTask(conn)
	}
	return nil
}

// isProtocolError reports whether the request was malformed but the
// connection is still usable.
func isProtocolError(err error) bool {
	return errors.Is(err, ErrMessageTooShort) ||
		errors.Is(err, ErrInvalidMessageType) ||
		errors.Is(err, ErrFrameTooLarge)
}

// dispatch hands a decoded request to the engine and encodes the outcome.
// Every operation is logged with its structured result so observability
// never has to re-derive anything from book state.
func (s *Server) dispatch(message Message) []byte {
	switch m := message.(type) {
	case NewOrderMessage:
		result, err := s.engine.Submit(m.Request())
		if err != nil {
			log.Info().
				Str("security", m.SecurityID.String()).
				Str("side", m.Side.String()).
				Err(err).
				Msg("order rejected")
			return encodeError(OrderAck, statusOf(err), err.Error())
		}
		log.Info().
			Str("order", result.OrderID.String()).
			Str("security", m.SecurityID.String()).
			Str("side", m.Side.String()).
			Str("status", result.Status.String()).
			Int("fills", len(result.Fills)).
			Msg("order matched")
		return encodeOrderAck(result)

	case CancelOrderMessage:
		result, err := s.engine.Cancel(m.SecurityID, m.OrderID)
		if err != nil {
			log.Info().
				Str("order", m.OrderID.String()).
				Err(err).
				Msg("cancel rejected")
			return encodeError(CancelAck, statusOf(err), err.Error())
		}
		log.Info().
			Str("order", m.OrderID.String()).
			Uint64("remaining", result.Remaining).
			Msg("order cancelled")
		return encodeCancelAck(result)

	case ModifyOrderMessage:
		result, err := s.engine.Modify(
			m.SecurityID,
			m.OrderID,
			decimal.NewFromFloat(m.NewPrice),
			m.NewQty,
		)
		if err != nil {
			log.Info().
				Str("order", m.OrderID.String()).
				Err(err).
				Msg("modify rejected")
			return encodeError(ModifyAck, statusOf(err), err.Error())
		}
		log.Info().
			Str("order", m.OrderID.String()).
			Str("status", result.Status.String()).
			Bool("resubmitted", result.Match != nil).
			Msg("order modified")
		return encodeModifyAck(result)

	case BookDepthMessage:
		depth, err := s.engine.Depth(m.SecurityID, m.LevelCount)
		if err != nil {
			// An unknown security is reported as such rather than as an empty
			// book; the client decides which way to read it.
			return encodeError(DepthReport, statusOf(err), err.Error())
		}
		return encodeDepthReport(depth)

	default:
		return encodeError(OrderAck, StatusBadRequest, ErrInvalidMessageType.Error())
	}
}

// statusOf maps engine errors onto wire status codes.
func statusOf(err error) uint16 {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		return StatusBadRequest
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, engine.ErrUnknownSecurity):
		return StatusNotFound
	default:
		return StatusInternal
	}
}

// respond writes a reply under the session's write lock so concurrent
// workers never interleave frames on one connection.
func (s *Server) respond(conn net.Conn, reply []byte) {
	session, ok := s.clientSession(conn.RemoteAddr().String())
	if !ok {
		return
	}

	session.writeLock.Lock()
	defer session.writeLock.Unlock()
	if _, err := session.conn.Write(reply); err != nil {
		log.Error().
			Err(err).
			Str("address", conn.RemoteAddr().String()).
			Msg("unable to send response")
		s.dropClientSession(conn)
	}
}

func (s *Server) clientSession(address string) (*ClientSession, bool) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session, ok := s.clientSessions[address]
	return session, ok
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[conn.RemoteAddr().String()] = &ClientSession{
		conn:      conn,
		writeLock: &sync.Mutex{},
	}
}

// dropClientSession closes the connection and removes it from tracking.
func (s *Server) dropClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, conn.RemoteAddr().String())
	if err := conn.Close(); err != nil {
		log.Error().Str("address", conn.RemoteAddr().String()).Err(err).Msg("error closing connection")
	}
}
