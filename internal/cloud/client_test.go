package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	t       *testing.T
	logins  atomic.Int32
	token   atomic.Value
	handler http.HandlerFunc
}

func newFakeCloud(t *testing.T, handler http.HandlerFunc) (*fakeCloud, *Client) {
	t.Helper()
	fc := &fakeCloud{t: t, handler: handler}
	fc.token.Store("token-1")

	srv := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(srv.Close)

	client := NewClient(Options{BaseURL: srv.URL + "/api/v3", Username: "user", Password: "secret"})
	return fc, client
}

func (fc *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	assert.NotEmpty(fc.t, r.Header.Get("x-skybell-app-id"))
	assert.NotEmpty(fc.t, r.Header.Get("x-skybell-client-id"))

	if r.URL.Path == "/api/v3/login/" {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "user" || req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"errors":{"message":"bad credentials"}}`)
			return
		}
		n := fc.logins.Add(1)
		token := "token-" + string(rune('0'+n))
		fc.token.Store(token)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token})
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+fc.token.Load().(string) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"name":"SmartAuthError","message":"SmartAuth token expired"}}`)
		return
	}
	fc.handler(w, r)
}

func TestClient_LogsInLazily(t *testing.T) {
	fc, client := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/devices/", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":"abc123","name":"Front Door"}]`)
	})

	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "abc123", devices[0].ID)
	assert.Equal(t, "Front Door", devices[0].Name)
	assert.Equal(t, int32(1), fc.logins.Load())

	_, err = client.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fc.logins.Load(), "token should be reused")
}

func TestClient_RelogsInOnSmartAuthError(t *testing.T) {
	fc, client := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.ListDevices(context.Background())
	require.NoError(t, err)

	// Server-side session expiry.
	fc.token.Store("revoked")

	_, err = client.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fc.logins.Load())
}

func TestClient_LoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errors":{"message":"bad credentials"}}`)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Username: "user", Password: "wrong"})
	_, err := client.ListDevices(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad credentials", apiErr.Message)
	assert.True(t, IsAuthError(err))
}

func TestClient_NoCredentials(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1"})
	_, err := client.ListDevices(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_StartCallDecodesEndpoints(t *testing.T) {
	_, client := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/devices/abc123/calls/", r.URL.Path)
		_, _ = io.WriteString(w, `{
			"incomingVideo": {"server":"10.0.0.5","port":5000,"payloadType":99,"encoding":"H264","sampleRate":90000,"key":"AAECAw==","ssrc":1234},
			"incomingAudio": {"server":"10.0.0.5","port":5002,"payloadType":100,"encoding":"L16","sampleRate":16000,"channels":1,"key":"BAUGBw==","ssrc":5678}
		}`)
	})

	endpoints, err := client.StartCall(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, uint16(5000), endpoints.IncomingVideo.Port)
	assert.Equal(t, []byte{0, 1, 2, 3}, endpoints.IncomingVideo.Key)
	assert.Equal(t, uint8(1), endpoints.IncomingAudio.Channels)
	assert.Equal(t, uint32(5678), endpoints.IncomingAudio.SSRC)
}

func TestClient_StopCallAndVideoURL(t *testing.T) {
	var stopped atomic.Bool
	_, client := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v3/devices/abc123/calls/":
			stopped.Store(true)
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/v3/devices/abc123/activities/act1/video/":
			_, _ = io.WriteString(w, `{"url":"https://media.example/act1.mp4"}`)
		default:
			http.NotFound(w, r)
		}
	})

	require.NoError(t, client.StopCall(context.Background(), "abc123"))
	assert.True(t, stopped.Load())

	u, err := client.ActivityVideoURL(context.Background(), "abc123", "act1")
	require.NoError(t, err)
	assert.Equal(t, "https://media.example/act1.mp4", u)
}

func TestClient_ErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	fc, client := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"device offline"}`)
	})

	_, err := client.DeviceInfo(context.Background(), "abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device offline")
	assert.False(t, IsAuthError(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), fc.logins.Load())
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"errors":{"message":"nope"}}`, "nope"},
		{`{"error":{"name":"SmartAuthError"}}`, "SmartAuthError"},
		{`{"message":"flat"}`, "flat"},
		{`{"error":"plain string"}`, "plain string"},
		{`not json`, "not json"},
		{`{"code":7}`, `{"code":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.True(t, tokenExpiry(signed).Equal(exp))
	assert.True(t, tokenExpiry("opaque-token").IsZero())
}

func TestClient_ExpiredTokenTriggersLogin(t *testing.T) {
	fc, client := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.Activities(context.Background(), "abc123")
	require.NoError(t, err)

	client.mu.Lock()
	client.expiresAt = time.Now().Add(-time.Minute)
	client.mu.Unlock()

	_, err = client.Activities(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fc.logins.Load())
}
