package db

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"sync"

	"dbconnector/internal/connection"
	"dbconnector/internal/ssh"

	"github.com/go-sql-driver/mysql"
)

type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// mysqlTunnels holds the open tunnels per registered driver network. The
// driver never forgets a dial func, so each SSH endpoint gets one network
// that later connections reuse.
var mysqlTunnels = struct {
	sync.Mutex
	byNetwork map[string][]contextDialer
}{byNetwork: make(map[string][]contextDialer)}

func mysqlSSHNetwork(cfg connection.SSHConfig) string {
	port := cfg.Port
	if port <= 0 {
		port = 22
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(cfg.User + "@" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))))
	return fmt.Sprintf("mysql+ssh-%x", h.Sum64())
}

func attachMySQLTunnel(network string, tunnel contextDialer) {
	mysqlTunnels.Lock()
	defer mysqlTunnels.Unlock()
	_, registered := mysqlTunnels.byNetwork[network]
	mysqlTunnels.byNetwork[network] = append(mysqlTunnels.byNetwork[network], tunnel)
	if registered {
		return
	}
	mysql.RegisterDialContext(network, func(ctx context.Context, addr string) (net.Conn, error) {
		tunnel := currentMySQLTunnel(network)
		if tunnel == nil {
			return nil, fmt.Errorf("no open SSH tunnel for %s", network)
		}
		return tunnel.DialContext(ctx, "tcp", addr)
	})
}

func releaseMySQLTunnel(network string, tunnel contextDialer) {
	mysqlTunnels.Lock()
	defer mysqlTunnels.Unlock()
	tunnels := mysqlTunnels.byNetwork[network]
	for i, t := range tunnels {
		if t == tunnel {
			mysqlTunnels.byNetwork[network] = append(tunnels[:i:i], tunnels[i+1:]...)
			return
		}
	}
}

// currentMySQLTunnel returns the most recently attached tunnel.
func currentMySQLTunnel(network string) contextDialer {
	mysqlTunnels.Lock()
	defer mysqlTunnels.Unlock()
	tunnels := mysqlTunnels.byNetwork[network]
	if len(tunnels) == 0 {
		return nil
	}
	return tunnels[len(tunnels)-1]
}

// MySQLDB serves both mysql and mariadb.
type MySQLDB struct {
	sqlDatabase
	dialect    string
	sshNetwork string
}

func (m *MySQLDB) buildConfig(config connection.ConnectionConfig) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = config.Username
	cfg.Passwd = config.Password
	cfg.Net = "tcp"
	cfg.Addr = config.Address()
	cfg.DBName = config.Database
	cfg.Timeout = getConnectTimeout(config)
	cfg.MultiStatements = false
	if config.SSL {
		cfg.TLSConfig = "true"
	}
	return cfg
}

func (m *MySQLDB) Connect(config connection.ConnectionConfig) error {
	if m.dialect == "" {
		m.dialect = connection.DialectMySQL
	}
	m.sqlDatabase.dialect = m.dialect
	_ = m.Close()

	cfg := m.buildConfig(config)
	var tunnel *ssh.Tunnel
	if config.UseSSH {
		var err error
		tunnel, err = ssh.Open(config.SSH, getConnectTimeout(config))
		if err != nil {
			return err
		}
		m.sshNetwork = mysqlSSHNetwork(config.SSH)
		attachMySQLTunnel(m.sshNetwork, tunnel)
		cfg.Net = m.sshNetwork
		m.tunnel = tunnel
	}
	if err := m.open("mysql", cfg.FormatDSN(), config); err != nil {
		// open already closed the tunnel
		if tunnel != nil {
			releaseMySQLTunnel(m.sshNetwork, tunnel)
			m.sshNetwork = ""
		}
		return err
	}
	return nil
}

func (m *MySQLDB) Close() error {
	if m.sshNetwork != "" && m.tunnel != nil {
		releaseMySQLTunnel(m.sshNetwork, m.tunnel)
	}
	m.sshNetwork = ""
	return m.sqlDatabase.Close()
}
