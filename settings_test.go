package relaychat

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Settings_Defaults(t *testing.T) {
	req := require.New(t)

	s := DefaultSettings()

	req.NoError(s.Validate())
	req.Equal("http://localhost:5000/communicationHub", s.HubURL)
	req.Equal("http://localhost:5000", s.BaseURL())
}

func Test_Settings_With_Server_Derives_Hub_URL(t *testing.T) {
	req := require.New(t)

	s := DefaultSettings().WithServer(" chat.example.com ", 8080)

	req.NoError(s.Validate())
	req.Equal("chat.example.com", s.ServerHost)
	req.Equal("http://chat.example.com:8080/hub", s.HubURL)
	req.Equal("http://chat.example.com:8080", s.BaseURL())
}

func Test_Settings_Validate_Rejects_Bad_Values(t *testing.T) {
	cases := map[string]Settings{
		"empty host":   {ServerPort: 5000},
		"port zero":    {ServerHost: "localhost"},
		"port too big": {ServerHost: "localhost", ServerPort: 70000},
		"hub not url":  {ServerHost: "localhost", ServerPort: 5000, HubURL: "not a url"},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, s.Validate())
		})
	}
}

func Test_Settings_Base_URL_Maps_Websocket_Schemes(t *testing.T) {
	req := require.New(t)

	req.Equal("https://relay.io", Settings{HubURL: "wss://relay.io/hub"}.BaseURL())
	req.Equal("http://10.0.0.1:5000", Settings{ServerHost: "10.0.0.1"}.BaseURL())
}

func Test_Hub_Endpoint(t *testing.T) {
	req := require.New(t)

	endpoint, err := Settings{HubURL: "https://relay.io/hub/"}.hubEndpoint("bob smith")

	req.NoError(err)
	u, err := url.Parse(endpoint)
	req.NoError(err)
	req.Equal("wss", u.Scheme)
	req.Equal("/hub", u.Path)
	req.Equal("bob smith", u.Query().Get("username"))
}

func Test_Hub_Endpoint_Configuration_Errors(t *testing.T) {
	for _, hub := range []string{"", "   ", "ftp://relay.io/hub", "http:///hub"} {
		t.Run(hub, func(t *testing.T) {
			req := require.New(t)
			_, err := Settings{HubURL: hub}.hubEndpoint("alice")

			var cfgErr *ConfigurationError
			req.True(errors.As(err, &cfgErr), "got %v", err)
			req.Equal("hub_url", cfgErr.Field)
		})
	}
}
