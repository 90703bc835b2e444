package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthea-ws/genclient/internal/protocol"
)

func TestGenerateAcceptsBothResponseShapes(t *testing.T) {
	for name, body := range map[string]string{
		"bare":   "abc-123",
		"quoted": `"abc-123"`,
		"object": `{"uuid":"abc-123"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/generate", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL+"/", "tok", time.Second)
			id, err := c.Generate(context.Background(), protocol.PopulationConfig(4).With(protocol.KeySeed, 9))
			require.NoError(t, err)
			assert.Equal(t, "abc-123", id)
			assert.EqualValues(t, 4, got["population"])
			assert.EqualValues(t, 9, got["seed"])
		})
	}
}

func TestGenerateDefaultsConfiguration(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "x")
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, protocol.DefaultPopulation, got["population"])
}

func TestGenerateEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).Generate(context.Background(), nil)
	assert.Error(t, err)
}

func TestResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/known":
			_, _ = io.WriteString(w, `[{"resourceType":"Bundle","id":"1"},{"resourceType":"Bundle","id":"2"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", time.Second)

	out, err := c.Results(context.Background(), "known")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.JSONEq(t, `{"resourceType":"Bundle","id":"2"}`, string(out[1]))

	_, err = c.Results(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestZipPendingThenReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = io.WriteString(w, "PK-archive")
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", time.Second)

	var buf bytes.Buffer
	assert.True(t, errors.Is(c.Zip(context.Background(), "id", &buf), ErrPending))
	assert.Zero(t, buf.Len())

	require.NoError(t, c.WaitZip(context.Background(), "id", &buf, 5*time.Millisecond))
	assert.Equal(t, "PK-archive", buf.String())
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitZipHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := NewHTTPClient(srv.URL, "", time.Second).WaitZip(ctx, "id", io.Discard, 5*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTerminate(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if r.URL.Path == "/terminate/gone" {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", time.Second)

	require.NoError(t, c.Terminate(context.Background(), "abc"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/terminate/abc", path)

	assert.True(t, errors.Is(c.Terminate(context.Background(), "gone"), ErrNotFound))
}

func TestServerErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Could not process specified configuration", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Could not process specified configuration")
}

func TestDeriveHTTPBase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ws://127.0.0.1:8080/ws", "http://127.0.0.1:8080"},
		{"wss://gen.example.org/stomp", "https://gen.example.org"},
		{"ws://localhost:9000", "http://localhost:9000"},
		{"::not a url", "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveHTTPBase(tt.in), tt.in)
	}
}
