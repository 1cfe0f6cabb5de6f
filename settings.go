package relaychat

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultServerHost = "localhost"
	DefaultServerPort = 5000
	DefaultHubPath    = "/communicationHub"
)

var validate = validator.New()

// Settings locate the relay server. They are passed by value; changing them
// means building a new ConnectionManager.
type Settings struct {
	ServerHost string `validate:"required,hostname|ip"`
	ServerPort int    `validate:"min=1,max=65535"`
	HubURL     string `validate:"omitempty,url"`
}

func DefaultSettings() Settings {
	return Settings{
		ServerHost: DefaultServerHost,
		ServerPort: DefaultServerPort,
		HubURL:     fmt.Sprintf("http://%s:%d%s", DefaultServerHost, DefaultServerPort, DefaultHubPath),
	}
}

// WithServer returns a copy pointing at host:port with the hub URL derived as http://host:port/hub.
func (s Settings) WithServer(host string, port int) Settings {
	s.ServerHost = strings.TrimSpace(host)
	s.ServerPort = port
	s.HubURL = "http://" + net.JoinHostPort(s.ServerHost, strconv.Itoa(port)) + "/hub"
	return s
}

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// BaseURL is the REST root: scheme://host:port of the hub URL, or http://host:port.
func (s Settings) BaseURL() string {
	if u, err := url.Parse(strings.TrimSpace(s.HubURL)); err == nil && u.Host != "" {
		scheme := u.Scheme
		switch scheme {
		case "ws":
			scheme = "http"
		case "wss":
			scheme = "https"
		}
		return scheme + "://" + u.Host
	}
	host := s.ServerHost
	if host == "" {
		host = DefaultServerHost
	}
	port := s.ServerPort
	if port == 0 {
		port = DefaultServerPort
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// hubEndpoint builds the websocket URL for username.
func (s Settings) hubEndpoint(username string) (string, error) {
	raw := strings.TrimRight(strings.TrimSpace(s.HubURL), "/")
	if raw == "" {
		return "", &ConfigurationError{Field: "hub_url", Reason: "hub URL is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ConfigurationError{Field: "hub_url", Reason: err.Error()}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", &ConfigurationError{Field: "hub_url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", &ConfigurationError{Field: "hub_url", Reason: "hub URL has no host"}
	}
	q := u.Query()
	q.Set("username", username)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
