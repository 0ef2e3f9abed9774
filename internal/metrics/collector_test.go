package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("Enabled", func(t *testing.T) {
		t.Parallel()
		c, err := NewCollector(Config{Addr: "127.0.0.1:0"})
		require.NoError(t, err)
		assert.True(t, c.Enabled())
		assert.Equal(t, DefaultPath, c.config.Path)
		assert.Equal(t, DefaultNamespace, c.config.Namespace)
	})

	t.Run("Disabled", func(t *testing.T) {
		t.Parallel()
		c, err := NewCollector(Config{})
		require.NoError(t, err)
		assert.False(t, c.Enabled())
		assert.Nil(t, c.registry)
	})
}

func TestCollector_Records(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	c.ObserveTx("read", 2*time.Millisecond, nil)
	c.ObserveTx("read", time.Millisecond, errors.New("nack"))
	c.ObserveTx("write", time.Millisecond, nil)
	c.RecordRead("lux", nil)
	c.RecordOpenRejected()
	c.SetOpenHandles(1)

	body := scrape(t, c)
	assert.Contains(t, body, `luxfs_bus_transactions_total{op="read",status="success"} 1`)
	assert.Contains(t, body, `luxfs_bus_transactions_total{op="read",status="error"} 1`)
	assert.Contains(t, body, `luxfs_bus_transactions_total{op="write",status="success"} 1`)
	assert.Contains(t, body, `luxfs_bus_transaction_duration_seconds_count{op="read"} 2`)
	assert.Contains(t, body, `luxfs_fs_reads_total{file="lux",status="success"} 1`)
	assert.Contains(t, body, `luxfs_fs_open_rejected_total 1`)
	assert.Contains(t, body, `luxfs_fs_open_handles 1`)
}

func TestCollector_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	for name, c := range map[string]*Collector{
		"Disabled": {},
		"Nil":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.NotPanics(t, func() {
				c.ObserveTx("read", time.Millisecond, nil)
				c.RecordRead("lux", nil)
				c.RecordOpenRejected()
				c.SetOpenHandles(3)
			})
			require.NoError(t, c.Start(context.Background()))
			assert.Nil(t, c.Addr())
			require.NoError(t, c.Stop(context.Background()))

			rec := httptest.NewRecorder()
			c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestCollector_StartStop(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.Error(t, c.Start(ctx), "second start is rejected")

	addr := c.Addr()
	require.NotNil(t, addr)

	c.ObserveTx("read", time.Millisecond, nil)

	resp, err := http.Get("http://" + addr.String() + DefaultPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "luxfs_bus_transactions_total")

	resp, err = http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))
	assert.Nil(t, c.Addr())
}

func TestCollector_StartBindFailure(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(Config{Addr: "256.0.0.1:bad"})
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.Nil(t, c.Addr())
}
