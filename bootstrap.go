package main

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/pkg/browser"
	"github.com/remeh/sizedwaitgroup"

	"goclash/ccproto"
)

type loginServerEntry struct {
	IP   string
	Port int
}

// serverDirectory is what the publisher's config endpoint returns: the
// maintenance window, the required client version and the login servers.
type serverDirectory struct {
	Maintenance   bool
	MaintainStart time.Time
	MaintainEnd   time.Time
	UpdateNeeded  bool
	Version       string
	UpdateSize    uint64
	UpdateURL     string
	Servers       []loginServerEntry
}

type serverDirectoryXML struct {
	Update struct {
		IsMaintain    string `xml:"isMaintain,attr"`
		MaintainStart string `xml:"maintainStart,attr"`
		MaintainEnd   string `xml:"maintainEnd,attr"`
		IsUpdate      string `xml:"isUpdate,attr"`
		Version       string `xml:"version,attr"`
		Size          string `xml:"size,attr"`
		URL           string `xml:"url,attr"`
	} `xml:"Update"`
	Servers []struct {
		IP   string `xml:"IP,attr"`
		Port int    `xml:"PORT,attr"`
	} `xml:"LoginServer>array"`
}

const maintainTimeLayout = "2006-01-02 15:04"

func parseServerDirectory(data []byte) (*serverDirectory, error) {
	var raw serverDirectoryXML
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("server directory: %w", err)
	}
	d := &serverDirectory{
		Maintenance:  raw.Update.IsMaintain == "1",
		UpdateNeeded: raw.Update.IsUpdate == "1",
		Version:      raw.Update.Version,
		UpdateURL:    raw.Update.URL,
	}
	if t, err := time.Parse(maintainTimeLayout, raw.Update.MaintainStart); err == nil {
		d.MaintainStart = t
	}
	if t, err := time.Parse(maintainTimeLayout, raw.Update.MaintainEnd); err == nil {
		d.MaintainEnd = t
	}
	if n, err := strconv.ParseUint(raw.Update.Size, 10, 64); err == nil {
		d.UpdateSize = n
	}
	for _, s := range raw.Servers {
		if s.IP == "" {
			continue
		}
		port := s.Port
		if port == 0 {
			port = ccproto.DefaultPort
		}
		d.Servers = append(d.Servers, loginServerEntry{IP: s.IP, Port: port})
	}
	if len(d.Servers) == 0 {
		return nil, fmt.Errorf("server directory lists no login servers")
	}
	return d, nil
}

func fetchServerDirectory(ctx context.Context, rawURL string, configVersion int) (*serverDirectory, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("server config url: %w", err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(configVersion))
	// cache buster the real client sends
	q.Set("rnd_t", strconv.Itoa(rand.Intn(100000)))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: 15 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch server directory: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server directory: http %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseServerDirectory(data)
}

// checkDirectoryGates enforces the maintenance window and forced-update
// flag before any login attempt.
func checkDirectoryGates(d *serverDirectory, c *clientConfig) error {
	if d.Maintenance {
		if !d.MaintainEnd.IsZero() {
			if left := time.Until(d.MaintainEnd); left > 0 {
				return fmt.Errorf("servers are down for maintenance, about %s left",
					durafmt.Parse(left.Truncate(time.Minute)).LimitFirstN(2))
			}
		}
		return fmt.Errorf("servers are down for maintenance")
	}
	if d.UpdateNeeded && d.Version != c.ClientVersionString {
		if c.ClientVersionOverride {
			logWarn("client version %s is behind %s; continuing on override", c.ClientVersionString, d.Version)
			return nil
		}
		size := ""
		if d.UpdateSize > 0 {
			size = " (" + humanize.Bytes(d.UpdateSize) + ")"
		}
		consoleWarn(fmt.Sprintf("client update to %s%s required", d.Version, size))
		if d.UpdateURL != "" {
			if err := browser.OpenURL(d.UpdateURL); err != nil {
				logDebug("open update page: %v", err)
			}
		}
		return fmt.Errorf("client version %s is outdated; set client_version_override to continue anyway",
			c.ClientVersionString)
	}
	return nil
}

type serverProbe struct {
	addr    string
	latency time.Duration
	err     error
}

// probeLoginServers measures TCP dial latency to every directory entry, a
// few at a time, and returns them fastest first with unreachable ones
// last.
func probeLoginServers(ctx context.Context, servers []loginServerEntry) []serverProbe {
	probes := make([]serverProbe, len(servers))
	swg := sizedwaitgroup.New(4)
	for i, srv := range servers {
		probes[i].addr = net.JoinHostPort(srv.IP, strconv.Itoa(srv.Port))
		swg.Add()
		go func(i int) {
			defer swg.Done()
			d := net.Dialer{Timeout: 5 * time.Second}
			start := time.Now()
			conn, err := d.DialContext(ctx, "tcp", probes[i].addr)
			if err != nil {
				probes[i].err = err
				return
			}
			probes[i].latency = time.Since(start)
			conn.Close()
		}(i)
	}
	swg.Wait()
	sort.SliceStable(probes, func(a, b int) bool {
		if (probes[a].err == nil) != (probes[b].err == nil) {
			return probes[a].err == nil
		}
		return probes[a].latency < probes[b].latency
	})
	return probes
}

func chooseLoginServer(ctx context.Context, servers []loginServerEntry) (string, error) {
	probes := probeLoginServers(ctx, servers)
	for _, p := range probes {
		if p.err == nil {
			logDebug("login server %s reachable in %v", p.addr, p.latency)
			return p.addr, nil
		}
	}
	return "", fmt.Errorf("no login server reachable, tried %d", len(probes))
}

// bootstrapServer resolves the login server endpoint: the configured host
// wins, else the directory is fetched, gated and probed.
func bootstrapServer(ctx context.Context, c *clientConfig) (string, error) {
	if addr := c.serverAddr(); addr != "" {
		return addr, nil
	}
	if c.ServerConfigURL == "" {
		return "", fmt.Errorf("no server_host and no server_config_url configured")
	}
	dir, err := fetchServerDirectory(ctx, c.ServerConfigURL, c.ServerConfigVersion)
	if err != nil {
		return "", err
	}
	if err := checkDirectoryGates(dir, c); err != nil {
		return "", err
	}
	return chooseLoginServer(ctx, dir.Servers)
}
