package mqtt

import (
	"bytes"
	"log/slog"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Session describes a client connected to the embedded broker.
type Session struct {
	ClientID        string    `json:"client_id"`
	Username        string    `json:"username,omitempty"`
	Remote          string    `json:"remote"`
	ProtocolVersion byte      `json:"protocol_version"`
	ConnectedAt     time.Time `json:"connected_at"`
}

// SessionTracker is told about clients connecting to and leaving the broker.
type SessionTracker interface {
	SessionOpened(s Session)
	SessionClosed(clientID string)
}

type SessionHookOptions struct {
	Tracker SessionTracker
	Logger  *slog.Logger
}

// SessionHook reports broker sessions to a SessionTracker.
type SessionHook struct {
	mochi.HookBase
	tracker SessionTracker
	log     *slog.Logger
	now     func() time.Time
}

// ID returns the ID of the hook.
func (h *SessionHook) ID() string {
	return "SessionHook"
}

// Provides indicates which methods a hook provides.
func (h *SessionHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnSessionEstablished,
		mochi.OnDisconnect,
	}, []byte{b})
}

// Init performs any pre-start initializations for the hook.
func (h *SessionHook) Init(config any) error {
	if _, ok := config.(*SessionHookOptions); !ok && config != nil {
		return mochi.ErrInvalidConfigType
	}

	if config == nil {
		config = new(SessionHookOptions)
	}

	opt := config.(*SessionHookOptions)
	h.tracker = opt.Tracker
	h.log = opt.Logger
	if h.log == nil {
		h.log = slog.Default()
	}
	h.now = time.Now

	return nil
}

// OnSessionEstablished is called when a new client establishes a session (after OnConnect).
func (h *SessionHook) OnSessionEstablished(cl *mochi.Client, pk packets.Packet) {
	s := Session{
		ClientID:        cl.ID,
		Username:        string(cl.Properties.Username),
		Remote:          cl.Net.Remote,
		ProtocolVersion: cl.Properties.ProtocolVersion,
		ConnectedAt:     h.now(),
	}
	if h.tracker != nil {
		h.tracker.SessionOpened(s)
	}
	h.log.Info("client connected", "client_id", s.ClientID, "remote", s.Remote, "protocol_version", s.ProtocolVersion)
}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *SessionHook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	if h.tracker != nil {
		h.tracker.SessionClosed(cl.ID)
	}
	h.log.Info("client disconnected", "client_id", cl.ID, "error", err, "expire", expire)
}
