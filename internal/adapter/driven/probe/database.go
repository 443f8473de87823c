package probe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/canvasflow/authvault/internal/domain/model"
)

// checkDatabase opens a short-lived connection, pings it, and closes it.
// Nothing is executed on the server beyond the ping.
func (c *Checker) checkDatabase(ctx context.Context, driverName, dsn, display string) model.ValidationResult {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return rejected(fmt.Sprintf("invalid %s connection settings: %v", display, err))
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return databaseResult(display, err)
	}

	return model.ValidationResult{Valid: true}
}

// databaseResult classifies a ping failure. Transport-level failures mean
// the server could not be reached; anything the server itself answered with
// (bad password, unknown database) counts as a rejected credential.
func databaseResult(display string, err error) model.ValidationResult {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return unreachable(display, err)
	}

	return rejected(fmt.Sprintf("%s rejected the connection: %v", display, err))
}

func postgresDSN(payload map[string]any, timeout time.Duration) string {
	port := stringField(payload, "port")
	if port == "" {
		port = "5432"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(stringField(payload, "user"), stringField(payload, "password")),
		Host:   net.JoinHostPort(stringField(payload, "host"), port),
		Path:   "/" + stringField(payload, "database"),
	}

	q := url.Values{}
	q.Set("connect_timeout", strconv.Itoa(timeoutSeconds(timeout)))
	if mode := stringField(payload, "sslmode"); mode != "" {
		q.Set("sslmode", mode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func mysqlDSN(payload map[string]any, timeout time.Duration) string {
	port := stringField(payload, "port")
	if port == "" {
		port = "3306"
	}

	cfg := mysql.NewConfig()
	cfg.User = stringField(payload, "user")
	cfg.Passwd = stringField(payload, "password")
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(stringField(payload, "host"), port)
	cfg.DBName = stringField(payload, "database")
	cfg.Timeout = timeout

	return cfg.FormatDSN()
}

func timeoutSeconds(timeout time.Duration) int {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// stringField reads a payload value as a string. Ports arrive as JSON
// numbers when submitted through the API, so numbers are formatted too.
func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case float64:
		return strconv.Itoa(int(v))
	case int:
		return strconv.Itoa(v)
	}
	return ""
}
