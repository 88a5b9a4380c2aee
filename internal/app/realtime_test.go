package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialRealtime(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/realtime" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, frame string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	var out map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestRealtime_Stream(t *testing.T) {
	env := newTestEnv(t, fakeClassifier{})
	conn := dialRealtime(t, env, "")

	out := exchange(t, conn, `{"accel_x":1,"accel_y":0,"accel_z":0,"gyro_x":0,"gyro_y":0,"gyro_z":0}`)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, true, out["step_start"])
	sessionID, _ := out["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.NotEqual(t, "default", sessionID)

	out = exchange(t, conn, `{"accel_x":1,"accel_y":0}`)
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "Missing required sensor data fields", out["error"])
	assert.Len(t, out["required"], 6)

	out = exchange(t, conn, `not json`)
	assert.Equal(t, "Invalid JSON format", out["error"])

	out = exchange(t, conn, `{"accel_x":-1,"accel_y":0,"accel_z":0,"gyro_x":0,"gyro_y":0,"gyro_z":0}`)
	assert.Contains(t, out["error"], "Processing error")

	// the connection survives errors
	out = exchange(t, conn, `{"accel_x":2,"accel_y":0,"accel_z":0,"gyro_x":0,"gyro_y":0,"gyro_z":0}`)
	assert.Equal(t, true, out["step_end"])
	assert.Equal(t, 1.0, out["step_count"])

	// anonymous sessions are dropped when the client leaves
	_, ok := env.registry.Get(sessionID)
	assert.True(t, ok)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		_, ok := env.registry.Get(sessionID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRealtime_SharedSession(t *testing.T) {
	env := newTestEnv(t, fakeClassifier{})
	conn := dialRealtime(t, env, "?session=default")

	exchange(t, conn, `{"accel_x":1,"accel_y":0,"accel_z":0,"gyro_x":0,"gyro_y":0,"gyro_z":0}`)
	out := exchange(t, conn, `{"accel_x":2,"accel_y":0,"accel_z":0,"gyro_x":0,"gyro_y":0,"gyro_z":0}`)
	assert.Equal(t, "default", out["session_id"])

	_, body := env.do(t, http.MethodGet, "/step_count", nil)
	assert.Equal(t, 1.0, body["step_count"])
}

func TestRealtime_ModelNotLoaded(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialRealtime(t, env, "")

	var out map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "Model not loaded", out["error"])
	assert.Equal(t, "error", out["status"])

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)
}
