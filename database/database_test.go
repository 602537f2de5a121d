package database

import (
	"context"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"byteme/config"
)

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE orders SET status = ? WHERE order_id = ? AND status = ?"

	assert.Equal(t, q, Dialect{Driver: MySQL}.Rebind(q))
	assert.Equal(t,
		"UPDATE orders SET status = $1 WHERE order_id = $2 AND status = $3",
		Dialect{Driver: Postgres}.Rebind(q),
	)
}

func TestDialect_TimestampType(t *testing.T) {
	assert.Equal(t, "DATETIME(6)", Dialect{Driver: MySQL}.TimestampType())
	assert.Equal(t, "TIMESTAMP", Dialect{Driver: Postgres}.TimestampType())
}

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: MySQL, Host: "db", Port: 3306, User: "u", Password: "p", Name: "order_db",
	}
	got, err := dsn(cfg)
	require.NoError(t, err)
	assert.Contains(t, got, "u:p@tcp(db:3306)/order_db")
	assert.Contains(t, got, "parseTime=true")
	assert.Contains(t, got, "clientFoundRows=true")

	cfg.Driver = Postgres
	cfg.SSLMode = "disable"
	got, err = dsn(cfg)
	require.NoError(t, err)
	assert.Equal(t, "host=db port=3306 user=u password=p dbname=order_db sslmode=disable", got)

	cfg.Driver = "sqlite"
	_, err = dsn(cfg)
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&mysql.MySQLError{Number: 1213}))
	assert.True(t, IsRetryable(&mysql.MySQLError{Number: 1205}))
	assert.False(t, IsRetryable(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsDuplicate(&pq.Error{Code: "23505"}))
	assert.False(t, IsDuplicate(&pq.Error{Code: "40001"}))
	assert.False(t, IsDuplicate(nil))
}

func TestRetryOnConflict(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return &mysql.MySQLError{Number: 1213}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflict_StopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := RetryOnConflict(context.Background(), 5, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflict_GivesUp(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 2, func() error {
		calls++
		return &pq.Error{Code: "40001"}
	})
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 2, calls)
}
