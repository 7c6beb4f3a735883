package pipewire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

// ErrDenied is returned when the user or compositor refuses a request
var ErrDenied = errors.New("portal request denied")

// Portal is the screen capture permission gate backed by
// xdg-desktop-portal's ScreenCast interface
type Portal struct {
	conn  *dbus.Conn
	group singleflight.Group

	mu            sync.Mutex
	sessionHandle dbus.ObjectPath
	nodeID        uint32
	granted       bool
	restoreToken  string
	tokenPath     string
	onRevoked     []func()
	unwatch       func()
}

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor = 1 << 0
	SourceTypeWindow  = 1 << 1
	SourceTypeVirtual = 1 << 2
)

// Cursor modes for SelectSources
const (
	CursorModeHidden   = 1 << 0
	CursorModeEmbedded = 1 << 1
	CursorModeMetadata = 1 << 2
)

// Persist modes for SelectSources
const (
	PersistModeNone        = 0
	PersistModeApplication = 1
	PersistModeSession     = 2
)

// NewPortal connects to the session bus
func NewPortal() (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}

	p := &Portal{
		conn:      conn,
		tokenPath: filepath.Join(configDir, "overlayrecorder", "portal_token"),
	}
	p.loadRestoreToken()
	return p, nil
}

// Close releases the grant and the bus connection
func (p *Portal) Close() error {
	_ = p.Release()
	return p.conn.Close()
}

// NodeID returns the PipeWire node of the granted stream
func (p *Portal) NodeID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeID
}

// Granted reports whether a screen cast session is open
func (p *Portal) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// OnRevoked registers fn to run when the compositor closes the session
func (p *Portal) OnRevoked(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRevoked = append(p.onRevoked, fn)
}

// Prepare opens a screen cast session, showing the portal dialog when no
// restore token is accepted. Concurrent calls share one request. A refusal
// returns false with a nil error.
func (p *Portal) Prepare(ctx context.Context) (bool, error) {
	if p.Granted() {
		return true, nil
	}

	v, err, _ := p.group.Do("prepare", func() (interface{}, error) {
		if p.Granted() {
			return true, nil
		}
		return p.startScreenShare(ctx)
	})
	if err != nil {
		if errors.Is(err, ErrDenied) {
			logger.WithComponent("portal").Info().Err(err).Msg("Screen capture permission denied")
			return false, nil
		}
		return false, err
	}
	return v.(bool), nil
}

// Release closes the screen cast session
func (p *Portal) Release() error {
	p.mu.Lock()
	handle := p.sessionHandle
	unwatch := p.unwatch
	p.sessionHandle = ""
	p.unwatch = nil
	p.granted = false
	p.nodeID = 0
	p.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if handle == "" {
		return nil
	}
	call := p.conn.Object(portalService, handle).Call(sessionIface+".Close", 0)
	if call.Err != nil {
		return fmt.Errorf("failed to close portal session: %w", call.Err)
	}
	logger.WithComponent("portal").Debug().Str("session", string(handle)).Msg("Portal session closed")
	return nil
}

func (p *Portal) startScreenShare(ctx context.Context) (bool, error) {
	log := logger.WithComponent("portal")

	sessionHandle, err := p.createSession(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}
	log.Debug().Str("session", string(sessionHandle)).Msg("Created portal session")

	if err := p.selectSources(ctx, sessionHandle); err != nil {
		p.closeSession(sessionHandle)
		return false, fmt.Errorf("failed to select sources: %w", err)
	}

	nodeID, err := p.start(ctx, sessionHandle)
	if err != nil {
		p.closeSession(sessionHandle)
		return false, fmt.Errorf("failed to start session: %w", err)
	}

	unwatch := p.watchClosed(sessionHandle)

	p.mu.Lock()
	p.sessionHandle = sessionHandle
	p.nodeID = nodeID
	p.granted = true
	p.unwatch = unwatch
	p.mu.Unlock()

	log.Info().Uint32("node_id", nodeID).Msg("Screen capture permission granted")
	return true, nil
}

func (p *Portal) closeSession(handle dbus.ObjectPath) {
	p.conn.Object(portalService, handle).Call(sessionIface+".Close", 0)
}

// watchClosed turns the session's Closed signal into a revocation. The
// returned function stops watching.
func (p *Portal) watchClosed(handle dbus.ObjectPath) func() {
	log := logger.WithComponent("portal")

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Closed',path='%s'", sessionIface, handle)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("Failed to watch portal session, revocations will go unnoticed")
	}

	ch := make(chan *dbus.Signal, 4)
	done := make(chan struct{})
	p.conn.Signal(ch)

	var once sync.Once
	unwatch := func() {
		once.Do(func() {
			p.conn.RemoveSignal(ch)
			close(done)
		})
	}

	go func() {
		for {
			var sig *dbus.Signal
			select {
			case <-done:
				return
			case sig = <-ch:
			}
			if sig == nil || sig.Path != handle || sig.Name != sessionIface+".Closed" {
				continue
			}

			p.mu.Lock()
			current := p.sessionHandle == handle
			if current {
				p.sessionHandle = ""
				p.granted = false
				p.nodeID = 0
				p.unwatch = nil
			}
			callbacks := append([]func(){}, p.onRevoked...)
			p.mu.Unlock()

			unwatch()
			if current {
				log.Warn().Str("session", string(handle)).Msg("Screen capture permission revoked")
				for _, fn := range callbacks {
					fn()
				}
			}
			return
		}
	}()
	return unwatch
}

// request calls a portal method that answers through a Request object and
// waits for its Response signal
func (p *Portal) request(ctx context.Context, timeout time.Duration, method string, args ...interface{}) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")
	obj := p.conn.Object(portalService, portalPath)

	// Set up response channel BEFORE making the call
	responseChan := make(chan *dbus.Signal, 10)

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}

	p.conn.Signal(responseChan)
	defer p.conn.RemoveSignal(responseChan)

	var requestPath dbus.ObjectPath
	if err := obj.CallWithContext(ctx, screenCastIface+"."+method, 0, args...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	log.Info().Str("request_path", string(requestPath)).Msgf("Waiting for %s response", method)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return awaitResponse(ctx, responseChan, requestPath)
}

// awaitResponse waits for the Response signal of requestPath
func awaitResponse(ctx context.Context, signals <-chan *dbus.Signal, requestPath dbus.ObjectPath) (map[string]dbus.Variant, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for portal response: %w", ctx.Err())
		case sig := <-signals:
			if sig == nil || sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			if len(sig.Body) < 1 {
				return nil, fmt.Errorf("invalid response")
			}
			code, ok := sig.Body[0].(uint32)
			if !ok {
				return nil, fmt.Errorf("invalid response code type %T", sig.Body[0])
			}
			if code != 0 {
				return nil, fmt.Errorf("%w (code %d)", ErrDenied, code)
			}
			results := map[string]dbus.Variant{}
			if len(sig.Body) > 1 {
				if r, ok := sig.Body[1].(map[string]dbus.Variant); ok {
					results = r
				}
			}
			return results, nil
		}
	}
}

func handleToken(prefix string) string {
	// Tokens must be valid D-Bus object path elements
	return prefix + "_" + uuid.New().String()[:8]
}

// createSession creates a new portal session
func (p *Portal) createSession(ctx context.Context) (dbus.ObjectPath, error) {
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(handleToken("overlayrecorder")),
		"session_handle_token": dbus.MakeVariant(handleToken("session")),
	}

	results, err := p.request(ctx, 30*time.Second, "CreateSession", options)
	if err != nil {
		return "", err
	}

	sessionHandle, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session handle in response")
	}
	// Handle both string and ObjectPath types
	switch v := sessionHandle.Value().(type) {
	case dbus.ObjectPath:
		return v, nil
	case string:
		return dbus.ObjectPath(v), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type: %T", v)
	}
}

// selectSources selects what to share (full screen)
func (p *Portal) selectSources(ctx context.Context, sessionHandle dbus.ObjectPath) error {
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(handleToken("select")),
		"types":        dbus.MakeVariant(uint32(SourceTypeMonitor)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(CursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(PersistModeApplication)),
	}

	p.mu.Lock()
	if p.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
		logger.WithComponent("portal").Debug().Msg("Using saved restore token")
	}
	p.mu.Unlock()

	// The user has to pick a screen in the dialog
	_, err := p.request(ctx, 60*time.Second, "SelectSources", sessionHandle, options)
	return err
}

// start starts the screen capture session and returns the stream's node
func (p *Portal) start(ctx context.Context, sessionHandle dbus.ObjectPath) (uint32, error) {
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(handleToken("start")),
	}

	results, err := p.request(ctx, 30*time.Second, "Start", sessionHandle, "", options)
	if err != nil {
		return 0, err
	}

	if restoreToken, ok := results["restore_token"]; ok {
		if token, ok := restoreToken.Value().(string); ok {
			p.mu.Lock()
			p.restoreToken = token
			p.mu.Unlock()
			p.saveRestoreToken()
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in response")
	}
	return parseNodeID(streams.Value())
}

// parseNodeID extracts the first node id from a(ua{sv}) streams
func parseNodeID(v interface{}) (uint32, error) {
	switch s := v.(type) {
	case [][]interface{}:
		if len(s) > 0 && len(s[0]) > 0 {
			if nodeID, ok := s[0][0].(uint32); ok {
				return nodeID, nil
			}
		}
	case []interface{}:
		// Sometimes it comes as []interface{} containing structs
		if len(s) > 0 {
			if stream, ok := s[0].([]interface{}); ok && len(stream) > 0 {
				if nodeID, ok := stream[0].(uint32); ok {
					return nodeID, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("unknown streams format %T", v)
}

// loadRestoreToken loads the restore token from disk
func (p *Portal) loadRestoreToken() {
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return
	}

	var token struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return
	}
	p.restoreToken = token.Token
}

// saveRestoreToken saves the restore token to disk
func (p *Portal) saveRestoreToken() {
	p.mu.Lock()
	restoreToken := p.restoreToken
	p.mu.Unlock()
	if restoreToken == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(p.tokenPath), 0755); err != nil {
		return
	}

	data, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: restoreToken})
	if err != nil {
		return
	}

	if err := os.WriteFile(p.tokenPath, data, 0600); err != nil {
		logger.WithComponent("portal").Debug().Err(err).Msg("Failed to save restore token")
	}
}
