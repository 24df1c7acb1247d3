package db

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"dbconnector/internal/connection"

	_ "github.com/microsoft/go-mssqldb"
)

type MSSQLDB struct {
	sqlDatabase
}

func (m *MSSQLDB) getDSN(config connection.ConnectionConfig, addr string) string {
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(config.Username, config.Password),
		Host:   addr,
	}
	q := url.Values{}
	if instance := strings.TrimSpace(config.InstanceName); instance != "" {
		// named instances are resolved by the browser service, not a port
		u.Host = strings.TrimSpace(config.Host)
		if u.Host == "" {
			u.Host = "localhost"
		}
		u.Path = "/" + instance
	}
	if db := strings.TrimSpace(config.Database); db != "" {
		q.Set("database", db)
	}
	q.Set("encrypt", strconv.FormatBool(config.Encrypt))
	q.Set("connection timeout", fmt.Sprintf("%d", int(getConnectTimeout(config).Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *MSSQLDB) Connect(config connection.ConnectionConfig) error {
	m.dialect = connection.DialectMSSQL
	_ = m.Close()

	addr, err := m.forwardIfNeeded(config)
	if err != nil {
		return err
	}
	return m.open("sqlserver", m.getDSN(config, addr), config)
}
