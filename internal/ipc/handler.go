package ipc

import (
	"context"
	"errors"
	"sync"

	"dbconnector/internal/logger"
	"dbconnector/internal/metrics"
	"dbconnector/internal/session"
)

// ServerControl is the part of the HTTP server the UI can drive.
type ServerControl interface {
	// StartHTTPS serves HTTPS from the existing certificate files and
	// reports whether a certificate was found.
	StartHTTPS() (bool, error)
	AddAllowedOrigin(domain string)
}

// Handler routes UI messages to the session manager. Messages are
// handled one at a time since each one moves the session selection.
type Handler struct {
	mu       sync.Mutex
	sessions *session.Manager
	log      *logger.Logger
	server   ServerControl
}

func NewHandler(sessions *session.Manager, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{sessions: sessions, log: log}
}

// SetServerControl attaches the HTTP server once it exists.
func (h *Handler) SetServerControl(server ServerControl) {
	h.server = server
}

func (h *Handler) Sessions() *session.Manager {
	return h.sessions
}

func (h *Handler) resolveSession(p Payload) string {
	id := p.SessionSelectedID
	database := p.Database
	switch {
	case id == "":
		id = h.sessions.Selected()
		if database == "" {
			database = h.sessions.Database(id)
		}
	case h.sessions.Exists(id):
		h.sessions.SetSelected(id)
		if database == "" {
			database = h.sessions.Database(id)
		}
	default:
		// a new id is taken as is; CONNECT fills it in
		h.sessions.SetSelected(id)
	}
	return database
}

// Handle runs one task. Responses, including raised errors, go through
// send; the returned error is the first failure, already reported.
func (h *Handler) Handle(ctx context.Context, p Payload, send session.ResponseSender) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	database := h.resolveSession(p)
	h.log.Logf(logger.DetailInfo, "Sending task %s to sessionManager", p.Task)

	// once a connection error is raised the rest of the chain stays quiet
	connError := false
	var first error
	raiseError := func(err error) error {
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
		if connError || session.IsRaised(err) {
			return err
		}
		return h.sessions.RaiseError(err, send)
	}
	raiseConnectionError := func(err error) error {
		if first == nil {
			first = err
		}
		if connError {
			return err
		}
		connError = true
		h.log.Log("Raising connection error.", logger.DetailWarn)
		var sessionErr *session.Error
		if errors.As(err, &sessionErr) && sessionErr.Name == session.ConnectionErrorName {
			return h.sessions.RaiseError(err, send)
		}
		return h.sessions.RaiseError(session.NewConnectionError(err.Error()), send)
	}
	authenticate := func() bool {
		err := h.sessions.Authenticate(ctx, send)
		if err != nil {
			connError = true
			raiseError(err)
			return false
		}
		return true
	}
	selectDatabase := func(name string) bool {
		return raiseError(h.sessions.SelectDatabase(ctx, name)) == nil
	}
	ok := func() {
		send(map[string]interface{}{"error": nil}, 200)
	}

	switch p.Task {
	// v0
	case TaskConnectAndShowDatabases:
		cfg, err := p.messageConfig()
		if err == nil {
			err = h.sessions.Connect(ctx, cfg)
		}
		if err != nil {
			raiseConnectionError(err)
			break
		}
		h.log.Log("TASK: you are logged in.", logger.DetailInfo)
		raiseError(h.sessions.ShowDatabases(ctx, send))

	case TaskCheckConnectionAndShowDatabases:
		if authenticate() {
			raiseError(h.sessions.ShowDatabases(ctx, send))
		}

	case TaskSelectDatabaseAndShowTables:
		if !authenticate() {
			break
		}
		if err := h.sessions.SelectDatabase(ctx, p.messageString()); err != nil {
			raiseConnectionError(err)
			break
		}
		raiseError(h.sessions.ShowTables(ctx, send))

	// v1
	case TaskConnect:
		cfg, err := p.messageConfig()
		if err == nil {
			err = h.sessions.Connect(ctx, cfg)
		}
		if err != nil {
			raiseConnectionError(err)
			break
		}
		h.log.Log("TASK: you are logged in.", logger.DetailInfo)
		ok()

	case TaskAuthenticate:
		if authenticate() {
			h.log.Log("TASK: connection authenticated.", logger.DetailInfo)
			ok()
		}

	case TaskSessions:
		raiseError(h.sessions.ShowSessions(ctx, send))

	case TaskDeleteSession:
		if err := raiseError(h.sessions.DeleteSession(p.messageString())); err == nil {
			raiseError(h.sessions.ShowSessions(ctx, send))
		}

	case TaskAddSession:
		s, err := p.messageNewSession()
		if err == nil {
			err = h.sessions.AddSession(s.SessionID, s.Dialect, s.Database)
		}
		if raiseError(err) == nil {
			raiseError(h.sessions.ShowSessions(ctx, send))
		}

	case TaskDatabases:
		if authenticate() {
			raiseError(h.sessions.ShowDatabases(ctx, send))
		}

	case TaskSelectDatabase:
		if err := h.sessions.SelectDatabase(ctx, database); err != nil {
			raiseConnectionError(err)
			break
		}
		ok()

	case TaskTables:
		if authenticate() && selectDatabase(database) {
			raiseError(h.sessions.ShowTables(ctx, send))
		}

	case TaskPreview:
		if authenticate() && selectDatabase(database) {
			raiseError(h.sessions.PreviewTables(ctx, p.messageTables(), send))
		}

	case TaskQuery:
		if authenticate() && selectDatabase(database) {
			raiseError(h.sessions.Query(ctx, p.messageString(), send))
		}

	case TaskDisconnect:
		raiseError(h.sessions.Disconnect(ctx, send))

	case TaskGetMappings:
		if authenticate() {
			h.log.Log("TASK: getting mappings.", logger.DetailInfo)
			raiseError(h.sessions.GetMappings(ctx, send))
		}

	// other
	case TaskSetupHTTPSServer:
		h.log.Log("Setting up https server...", logger.DetailInfo)
		if h.server == nil {
			raiseError(session.NewError("Could not set up https server: no http server is running."))
			break
		}
		hasCert, err := h.server.StartHTTPS()
		if err != nil {
			h.log.Logf(logger.DetailError, "Could not set up https server: %v", err)
		}
		send(map[string]interface{}{"hasSelfSignedCert": hasCert}, 200)

	case TaskNewOnPremSession:
		domain := p.messageString()
		h.log.Logf(logger.DetailInfo, "Adding domain %s to CORS", domain)
		if h.server != nil && domain != "" {
			h.server.AddAllowedOrigin(domain)
		}

	default:
		raiseError(session.NewError(session.TaskNotImplemented(p.Task)))
	}

	metrics.ObserveTask(p.Task, first)
	return first
}
