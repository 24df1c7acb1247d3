package connection

import "testing"

func TestSanitizeDropsSecrets(t *testing.T) {
	cfg := ConnectionConfig{
		Dialect:         DialectS3,
		Username:        "plotly",
		Password:        "secret",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "shh",
		SSH:             SSHConfig{Host: "bastion", Password: "ssh-secret"},
	}

	got := Sanitize(cfg)
	if got.Password != "" || got.SecretAccessKey != "" || got.SSH.Password != "" {
		t.Fatalf("expected secrets removed, got %+v", got)
	}
	if got.AccessKeyID != "AKIA" || got.SSH.Host != "bastion" {
		t.Fatalf("non secret fields must survive, got %+v", got)
	}
	if cfg.Password != "secret" {
		t.Fatalf("input config must not be modified")
	}
}

func TestSummaryDefaultsHost(t *testing.T) {
	if got := Summary(ConnectionConfig{Dialect: "postgres", Username: "masteruser"}); got != "postgres:masteruser@localhost" {
		t.Fatalf("unexpected summary: %s", got)
	}
	if got := Summary(ConnectionConfig{Dialect: "mysql", Username: "root", Host: "db.example.com"}); got != "mysql:root@db.example.com" {
		t.Fatalf("unexpected summary: %s", got)
	}
}

func TestAddressUsesDialectDefaultPort(t *testing.T) {
	cases := []struct {
		cfg  ConnectionConfig
		want string
	}{
		{ConnectionConfig{Dialect: DialectMySQL}, "localhost:3306"},
		{ConnectionConfig{Dialect: DialectMSSQL, Host: "sql"}, "sql:1433"},
		{ConnectionConfig{Dialect: DialectPostgres, Host: "pg", Port: 6543}, "pg:6543"},
		{ConnectionConfig{Dialect: DialectSQLite, Host: "file"}, "file"},
	}
	for _, tc := range cases {
		if got := tc.cfg.Address(); got != tc.want {
			t.Fatalf("Address(%+v) = %s, want %s", tc.cfg, got, tc.want)
		}
	}
}
