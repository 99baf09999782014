package tcp

import (
	"context"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/identity"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/sync"
)

const maxBlobLen = 1 << 20 // 1 MiB, generous enough for any row image or display name

// Server accepts raw TCP connections and dispatches opcode-framed messages
// to the sync Engine, §4.G. Each accepted connection runs its own handler
// goroutine; all coordination between them happens through the Store's
// transactions, never through shared in-process state.
type Server struct {
	listener net.Listener
	engine   *sync.Engine
	schemas  *schema.Registry
	idsvc    *identity.Service
	logger   *zap.Logger
}

// NewServer wraps a listener with the dependencies opcode handlers need.
func NewServer(listener net.Listener, engine *sync.Engine, schemas *schema.Registry, idsvc *identity.Service, logger *zap.Logger) *Server {
	return &Server{listener: listener, engine: engine, schemas: schemas, idsvc: idsvc, logger: logger}
}

// Run accepts connections until ctx is cancelled, spawning one goroutine
// per connection. It returns once the listener is closed.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()
	metrics.TCPConnections.Inc()
	defer metrics.TCPConnections.Dec()
	c := newConn(nc)
	logger := s.logger.With(zap.String("remote_addr", nc.RemoteAddr().String()))

	for {
		op, err := c.readOpcode()
		if err != nil {
			logger.Debug("tcp: connection closed", zap.Error(err))
			return
		}
		if err := s.dispatch(c, opcode(op), logger); err != nil {
			logger.Warn("tcp: message handling failed", zap.Uint8("opcode", uint8(op)), zap.Error(err))
			return
		}
	}
}

// dispatch authenticates the session every message carries, resolves its
// pinned schema version, verifies the trailing CRC, and routes to the
// opcode's handler. A bad or unreadable CRC trailer is answered with its
// reply code (messageTransmissionError for a mismatch) and then closes the
// connection, as does a short read of the session uuid; an application
// error is reported back as a reply code and the connection stays open.
func (s *Server) dispatch(c *conn, op opcode, logger *zap.Logger) error {
	nodeID, err := c.readUUID()
	if err != nil {
		return err
	}

	handler, ok := handlers[op]
	if !ok {
		if err := c.verifyChecksum(); err != nil {
			_ = s.writeReply(c, err, nil, nil)
			return err
		}
		return s.writeReply(c, berrors.New(berrors.CodeInvalidRequest, "unknown opcode"), nil, nil)
	}

	// The body is read (and folded into the CRC) before any error is
	// reported, keeping the connection's framing in sync for the next
	// message. A body that fails part-way is left partly unread, so the
	// checksum check below normally fails and the connection is closed.
	req := &request{conn: c, logger: logger}
	body, bodyErr := handler.read(req)
	if err := c.verifyChecksum(); err != nil {
		_ = s.writeReply(c, err, nil, nil)
		return err
	}

	node, authErr := s.idsvc.AuthenticateNode(nodeID)
	if authErr == nil {
		req.node = node
		req.ctx, authErr = s.schemas.GetVersion(node.ContextUUID, node.SchemaVersion)
	}

	var result interface{}
	var appErr error
	switch {
	case authErr != nil:
		appErr = berrors.New(berrors.CodeAuthentication, "unknown session")
	case bodyErr != nil:
		appErr = bodyErr
	default:
		result, appErr = handler.exec(s, req, body)
	}

	return s.writeReply(c, appErr, handler.write, result)
}

func (s *Server) writeReply(c *conn, err error, write func(*writer, interface{}), result interface{}) error {
	w := newWriter()
	w.writeU8(uint8(replyCodeFor(err)))
	if err == nil && write != nil {
		write(w, result)
	}
	return w.flush(c.nc)
}

// request bundles per-message context passed from dispatch into each
// opcode's read/exec steps.
type request struct {
	conn   *conn
	node   *identity.Node
	ctx    *schema.Context
	logger *zap.Logger
}

// handlerFuncs is the read/exec/write triple one opcode wires up: read
// consumes the opcode-specific body (still accumulating into the CRC),
// exec runs the engine operation, write serializes the success reply body.
type handlerFuncs struct {
	read  func(*request) (interface{}, error)
	exec  func(*Server, *request, interface{}) (interface{}, error)
	write func(*writer, interface{})
}

var handlers map[opcode]handlerFuncs

func init() {
	handlers = map[opcode]handlerFuncs{
		opPushDataset:   pushDatasetHandler,
		opPopDataset:    popDatasetHandler,
		opPullDataset:   pullDatasetHandler,
		opPutDataset:    putDatasetHandler,
		opLeaveDataset:  leaveDatasetHandler,
		opDeleteDataset: deleteDatasetHandler,
		opUpdateMember:  updateMemberHandler,
		opDeleteMember:  deleteMemberHandler,
		opFullSync:      fullSyncHandler,
		opApplyHeader:   applyHeaderHandler,
	}
}

// visibilityFor resolves req.node's effective Role∩Module visibility
// against req.ctx and member.Role, the shape every membership/read opcode
// needs before touching the engine.
func visibilityFor(req *request, role uuid.UUID) (*authz.Visibility, error) {
	return authz.Resolve(req.ctx, role, req.node.ModuleUUID)
}
