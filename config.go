package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"goclash/ccproto"
)

const defaultConfigFile = "config.json"

// clientConfig is the captured account identity plus protocol constants.
// It is produced by -genconfig and read back on every run. AuthKey is a
// bearer secret; the file is written with owner-only permissions.
type clientConfig struct {
	ClientVersion         uint32 `json:"client_version"`
	ClientVersionString   string `json:"client_version_string"`
	ClientVersionOverride bool   `json:"client_version_override"`
	UserID                uint64 `json:"user_id"`
	AuthKey               string `json:"auth_key"`
	GameID                uint32 `json:"game_id"`
	ServerConfigVersion   int    `json:"server_config_version"`
	ClientSign            uint32 `json:"client_sign"`
	LanguageID            uint32 `json:"language_id"`

	// ServerHost skips the server directory lookup when set.
	ServerHost string `json:"server_host,omitempty"`
	ServerPort int    `json:"server_port,omitempty"`

	// ServerConfigURL is where the login server directory is fetched from.
	ServerConfigURL string `json:"server_config_url,omitempty"`

	// LoginTemplate optionally carries a captured login request body as
	// hex, with TemplateLayout locating the patchable regions in it.
	LoginTemplate  string        `json:"login_template,omitempty"`
	TemplateLayout *layoutConfig `json:"template_layout,omitempty"`
}

type layoutConfig struct {
	Version   int `json:"version"`
	UserIDOff int `json:"user_id_off"`
	KeyOff    int `json:"key_off"`
	KeyLen    int `json:"key_len"`
}

func loadClientConfig(path string) (*clientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var c clientConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if c.UserID == 0 {
		return nil, fmt.Errorf("%s: user_id missing; run with -genconfig first", path)
	}
	if c.AuthKey == "" {
		return nil, fmt.Errorf("%s: auth_key missing; run with -genconfig first", path)
	}
	return &c, nil
}

func saveClientConfig(path string, c *clientConfig) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func (c *clientConfig) credentials() ccproto.Credentials {
	return ccproto.Credentials{UserID: c.UserID, AccessKey: c.AuthKey}
}

// loginTemplate returns the captured template when the config carries
// one, else the standard body built from the config's constants.
func (c *clientConfig) loginTemplate() (ccproto.LoginTemplate, error) {
	if c.LoginTemplate == "" {
		return ccproto.BuildLoginTemplate(c.ClientVersion, c.GameID), nil
	}
	body, err := hex.DecodeString(c.LoginTemplate)
	if err != nil {
		return ccproto.LoginTemplate{}, fmt.Errorf("login_template: %w", err)
	}
	layout := ccproto.LayoutV1()
	if c.TemplateLayout != nil {
		layout = ccproto.TemplateLayout{
			Version:   c.TemplateLayout.Version,
			UserIDOff: c.TemplateLayout.UserIDOff,
			KeyOff:    c.TemplateLayout.KeyOff,
			KeyLen:    c.TemplateLayout.KeyLen,
		}
	}
	return ccproto.NewLoginTemplate(body, layout)
}

// serverAddr returns the configured login server endpoint, or "" when the
// directory lookup should pick one.
func (c *clientConfig) serverAddr() string {
	if c.ServerHost == "" {
		return ""
	}
	port := c.ServerPort
	if port == 0 {
		port = ccproto.DefaultPort
	}
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(port))
}
