package app

// Defaults for a single-machine setup.
const (
	DefaultServerURL  = "http://127.0.0.1:8970"
	DefaultListenAddr = "127.0.0.1:8971"
)

// Config holds runtime wiring options for building the client app.
type Config struct {
	ServerURL    string // central service base URL
	ListenAddr   string // local address the tunnel host binds
	AdvertiseURL string // base URL peers reach the tunnel host at; derived from ListenAddr when empty
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.AdvertiseURL == "" {
		c.AdvertiseURL = "http://" + c.ListenAddr
	}
}
