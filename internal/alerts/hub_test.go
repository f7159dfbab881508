package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttutor-systems/trustcore/internal/logging"
	"github.com/smarttutor-systems/trustcore/internal/models"
	"github.com/smarttutor-systems/trustcore/pkg/tokens"
)

func testLogger() *logging.Logger {
	return logging.New(logging.ParseLevel("error"), "text")
}

func TestClassifyThreat(t *testing.T) {
	tests := []struct {
		eventType models.EventType
		want      ThreatLevel
	}{
		{models.EventBruteForce, ThreatCritical},
		{models.EventAdminCompromise, ThreatCritical},
		{models.EventSuspiciousIP, ThreatHigh},
		{models.EventMultiple2FAFail, ThreatHigh},
		{models.EventAccountLocked, ThreatMedium},
		{models.EventPasswordResetReq, ThreatMedium},
		{models.EventLoginFailed, ThreatLow},
		{models.EventLoginSuccess, ThreatLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyThreat(tt.eventType), string(tt.eventType))
	}
}

func TestActionLadder(t *testing.T) {
	assert.Equal(t, []Action{ActionLog}, ActionsFor(ThreatLow))
	assert.Equal(t, []Action{ActionLog, ActionNotify}, ActionsFor(ThreatMedium))
	assert.Equal(t, []Action{ActionLog, ActionNotify, ActionBlock}, ActionsFor(ThreatHigh))
	assert.Equal(t, []Action{ActionLog, ActionNotify, ActionBlock, ActionLockdown}, ActionsFor(ThreatCritical))
}

func TestNewAlert(t *testing.T) {
	alert := NewAlert(&models.SecurityEvent{
		ID:        "evt-1",
		Type:      models.EventBruteForce,
		IPAddress: "1.2.3.4",
	}, map[string]any{"attempts": 11})

	assert.True(t, strings.HasPrefix(alert.ID, "alert_"))
	assert.Equal(t, "brute_force_attempt", alert.Type)
	assert.Equal(t, ThreatCritical, alert.ThreatLevel)
	assert.Equal(t, "#dc3545", alert.Color)
	assert.Equal(t, "Brute force attack detected from IP 1.2.3.4 (11 failed attempts)", alert.Message)
	assert.Equal(t, "1.2.3.4", alert.Details["ip_address"])

	suspicious := NewAlert(&models.SecurityEvent{
		Type:      models.EventSuspiciousIP,
		IPAddress: "5.6.7.8",
	}, nil)
	assert.Equal(t, "Suspicious activity detected from IP 5.6.7.8 in Unknown Location", suspicious.Message)
	assert.Equal(t, "#fd7e14", NewAlert(&models.SecurityEvent{Type: models.EventAccountLocked}, nil).Color)
}

func TestClientWants(t *testing.T) {
	critical := &Alert{Type: "brute_force_attempt", ThreatLevel: ThreatCritical}
	low := &Alert{Type: "login_failed", ThreatLevel: ThreatLow}

	admin := &Client{authenticated: true, role: models.RoleAdmin, channels: map[string]bool{}}
	assert.True(t, admin.wants(critical))
	assert.False(t, admin.wants(low), "low alerts require an explicit subscription")

	admin.channels["login_failed"] = true
	assert.True(t, admin.wants(low))

	student := &Client{authenticated: true, role: models.RoleStudent, channels: map[string]bool{"login_failed": true}}
	assert.False(t, student.wants(critical))
	assert.False(t, student.wants(low))

	anonymous := &Client{channels: map[string]bool{}}
	assert.False(t, anonymous.wants(critical))
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg serverMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubEndToEnd(t *testing.T) {
	ts := tokens.NewTokenService("test-secret", "smarttutor-connect", time.Hour)
	hub := NewHub(context.Background(), ts, testLogger())
	go hub.Run()
	defer hub.Stop()

	token, err := ts.Issue("admin-1", "admin@example.com", models.RoleAdmin)
	require.NoError(t, err)

	conn := dialHub(t, hub)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "authenticate", Token: token}))
	assert.Equal(t, "auth_success", readServerMessage(t, conn).Type)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe", Channels: []string{"login_failed"}}))
	// The subscribe has no ack; give the read pump a moment to apply it.
	time.Sleep(50 * time.Millisecond)

	// Critical alerts arrive regardless of subscription.
	hub.Publish(NewAlert(&models.SecurityEvent{ID: "e1", Type: models.EventBruteForce, IPAddress: "1.2.3.4"}, nil))
	msg := readServerMessage(t, conn)
	assert.Equal(t, "security_alert", msg.Type)
	require.NotNil(t, msg.Data)
	assert.Equal(t, "brute_force_attempt", msg.Data.Type)

	// Low alerts arrive only for subscribed channels: an unsubscribed low
	// alert is skipped and the next delivery is the subscribed one.
	hub.Publish(NewAlert(&models.SecurityEvent{ID: "e2", Type: models.EventLoginSuccess}, nil))
	hub.Publish(NewAlert(&models.SecurityEvent{ID: "e3", Type: models.EventLoginFailed, IPAddress: "2.3.4.5"}, nil))
	msg = readServerMessage(t, conn)
	require.NotNil(t, msg.Data)
	assert.Equal(t, "login_failed", msg.Data.Type)
}

func TestHubRejectsBadToken(t *testing.T) {
	ts := tokens.NewTokenService("test-secret", "smarttutor-connect", time.Hour)
	hub := NewHub(context.Background(), ts, testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialHub(t, hub)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "authenticate", Token: "not-a-token"}))
	assert.Equal(t, "auth_error", readServerMessage(t, conn).Type)
	assert.Equal(t, 0, hub.ClientCount())

	// The rejection is followed by a proper close handshake, not an
	// abnormal drop.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected close: %v", err)
}

func TestHubStopDisconnectsClients(t *testing.T) {
	ts := tokens.NewTokenService("test-secret", "smarttutor-connect", time.Hour)
	hub := NewHub(context.Background(), ts, testLogger())
	go hub.Run()

	token, err := ts.Issue("admin-1", "admin@example.com", models.RoleAdmin)
	require.NoError(t, err)

	conn := dialHub(t, hub)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "authenticate", Token: token}))
	assert.Equal(t, "auth_success", readServerMessage(t, conn).Type)
	waitForClients(t, hub, 1)

	hub.Stop()

	// Traffic arriving after shutdown must not panic the read pump or
	// leave it blocked handing the client back to a stopped hub.
	_ = conn.WriteJSON(clientMessage{Type: "authenticate", Token: token})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubSkipsUnprivilegedRoles(t *testing.T) {
	ts := tokens.NewTokenService("test-secret", "smarttutor-connect", time.Hour)
	hub := NewHub(context.Background(), ts, testLogger())
	go hub.Run()
	defer hub.Stop()

	token, err := ts.Issue("student-1", "student@example.com", models.RoleStudent)
	require.NoError(t, err)

	conn := dialHub(t, hub)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "authenticate", Token: token}))
	assert.Equal(t, "auth_success", readServerMessage(t, conn).Type)
	waitForClients(t, hub, 1)

	hub.Publish(NewAlert(&models.SecurityEvent{ID: "e1", Type: models.EventBruteForce, IPAddress: "1.2.3.4"}, nil))

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "students must not receive operator alerts")
}

func TestHubSurvivesDroppedConnection(t *testing.T) {
	ts := tokens.NewTokenService("test-secret", "smarttutor-connect", time.Hour)
	hub := NewHub(context.Background(), ts, testLogger())
	go hub.Run()
	defer hub.Stop()

	adminToken, err := ts.Issue("admin-1", "admin@example.com", models.RoleAdmin)
	require.NoError(t, err)

	doomed := dialHub(t, hub)
	require.NoError(t, doomed.WriteJSON(clientMessage{Type: "authenticate", Token: adminToken}))
	readServerMessage(t, doomed)

	survivor := dialHub(t, hub)
	require.NoError(t, survivor.WriteJSON(clientMessage{Type: "authenticate", Token: adminToken}))
	readServerMessage(t, survivor)
	waitForClients(t, hub, 2)

	doomed.Close()

	hub.Publish(NewAlert(&models.SecurityEvent{ID: "e1", Type: models.EventAdminCompromise, UserID: "u1"}, nil))
	msg := readServerMessage(t, survivor)
	assert.Equal(t, "security_alert", msg.Type)
}
