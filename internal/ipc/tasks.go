package ipc

import (
	"encoding/json"
	"fmt"
	"strings"

	"dbconnector/internal/connection"
)

// Tasks understood by Handler.
const (
	// v0
	TaskCheckConnectionAndShowDatabases = "CHECK_CONNECTION_AND_SHOW_DATABASES"
	TaskConnectAndShowDatabases         = "CONNECT_AND_SHOW_DATABASES"
	TaskSelectDatabaseAndShowTables     = "SELECT_DATABASE_AND_SHOW_TABLES"

	// v1
	TaskConnect        = "CONNECT"
	TaskAuthenticate   = "AUTHENTICATE"
	TaskSessions       = "SESSIONS"
	TaskDeleteSession  = "DELETE_SESSION"
	TaskAddSession     = "ADD_SESSION"
	TaskDatabases      = "DATABASES"
	TaskSelectDatabase = "SELECT_DATABASE"
	TaskTables         = "TABLES"
	TaskPreview        = "PREVIEW"
	TaskQuery          = "QUERY"
	TaskDisconnect     = "DISCONNECT"

	TaskSetupHTTPSServer = "SETUP_HTTPS_SERVER"
	TaskNewOnPremSession = "NEW_ON_PREM_SESSION"
	TaskGetMappings      = "GET_MAPPINGS"
)

// Payload is one message from a client. Message depends on the task: a
// connection config for CONNECT, a statement for QUERY, a table list for
// PREVIEW, a session id for DELETE_SESSION.
type Payload struct {
	Task              string      `json:"task"`
	Message           interface{} `json:"message,omitempty"`
	SessionSelectedID string      `json:"sessionSelectedId,omitempty"`
	Database          string      `json:"database,omitempty"`
}

// NewSession is the ADD_SESSION message.
type NewSession struct {
	SessionID string `json:"sessionId"`
	Dialect   string `json:"dialect"`
	Database  string `json:"database"`
}

func (p Payload) hasMessage() bool {
	switch v := p.Message.(type) {
	case nil:
		return false
	case string:
		return v != ""
	}
	return true
}

// decodeMessage re-reads Message into out. Messages arrive either already
// typed (HTTP routes) or as generic JSON values (stdio, websocket).
func (p Payload) decodeMessage(out interface{}) error {
	if p.Message == nil {
		return fmt.Errorf("task %s requires a message", p.Task)
	}
	raw, err := json.Marshal(p.Message)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p Payload) messageString() string {
	switch v := p.Message.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
		return string(v)
	}
	return fmt.Sprint(p.Message)
}

func (p Payload) messageConfig() (connection.ConnectionConfig, error) {
	if cfg, ok := p.Message.(connection.ConnectionConfig); ok {
		return cfg, nil
	}
	var cfg connection.ConnectionConfig
	if !p.hasMessage() {
		return cfg, nil
	}
	err := p.decodeMessage(&cfg)
	return cfg, err
}

func (p Payload) messageTables() []string {
	switch v := p.Message.(type) {
	case []string:
		return v
	case string:
		return splitTables(v)
	}
	var tables []string
	if err := p.decodeMessage(&tables); err != nil {
		return splitTables(p.messageString())
	}
	return tables
}

func splitTables(list string) []string {
	var tables []string
	for _, table := range strings.Split(list, ",") {
		if table = strings.TrimSpace(table); table != "" {
			tables = append(tables, table)
		}
	}
	return tables
}

func (p Payload) messageNewSession() (NewSession, error) {
	if s, ok := p.Message.(NewSession); ok {
		return s, nil
	}
	var s NewSession
	err := p.decodeMessage(&s)
	return s, err
}
