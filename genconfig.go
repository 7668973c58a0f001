package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"goclash/ccproto"
)

// pcap magics: classic little/big endian (micro and nanosecond) and the
// pcapng section header.
var pcapMagics = [][]byte{
	{0xd4, 0xc3, 0xb2, 0xa1},
	{0xa1, 0xb2, 0xc3, 0xd4},
	{0x4d, 0x3c, 0xb2, 0xa1},
	{0xa1, 0xb2, 0x3c, 0x4d},
	{0x0a, 0x0d, 0x0d, 0x0a},
}

func looksLikePCAP(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	for _, magic := range pcapMagics {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	return false
}

// findLoginRequest scans a raw byte dump for the login request frame and
// returns its payload. Dumps usually start at the frame, but traffic
// captured with extra leading bytes still resolves.
func findLoginRequest(data []byte) ([]byte, error) {
	for off := 0; off+4 <= len(data); off++ {
		if binary.LittleEndian.Uint16(data[off+2:off+4]) != ccproto.MsgConnectLoginServer {
			continue
		}
		f, n, err := ccproto.ParseFrame(data[off:], 0)
		if err != nil || n == 0 {
			continue
		}
		if _, _, _, err := ccproto.ParseLoginRequest(f.Payload); err == nil {
			return f.Payload, nil
		}
	}
	return nil, fmt.Errorf("no login request found in %d bytes", len(data))
}

// runGenConfig extracts the account identity from a capture (raw dump or
// pcap) and writes it as a fresh config file.
func runGenConfig(capturePath, outPath string, force bool) error {
	data, err := os.ReadFile(capturePath)
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}

	var payload []byte
	if looksLikePCAP(data) {
		payload, err = loginRequestFromPCAP(capturePath)
	} else {
		payload, err = findLoginRequest(data)
	}
	if err != nil {
		return err
	}

	creds, clientVersion, gameID, err := ccproto.ParseLoginRequest(payload)
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outPath); err == nil {
			return fmt.Errorf("%s already exists; use -force to overwrite", outPath)
		}
	}

	layout := ccproto.LayoutV1()
	c := &clientConfig{
		ClientVersion:         clientVersion,
		ClientVersionString:   "3.8.9",
		ClientVersionOverride: true,
		UserID:                creds.UserID,
		AuthKey:               creds.AccessKey,
		GameID:                gameID,
		ServerConfigVersion:   3,
		ClientSign:            clientVersion,
		LanguageID:            2,
		LoginTemplate:         hex.EncodeToString(payload),
		TemplateLayout: &layoutConfig{
			Version:   layout.Version,
			UserIDOff: layout.UserIDOff,
			KeyOff:    layout.KeyOff,
			KeyLen:    layout.KeyLen,
		},
	}
	if err := saveClientConfig(outPath, c); err != nil {
		return err
	}
	consoleInfo(fmt.Sprintf("captured identity for user %d (client %d, game %d) written to %s",
		creds.UserID, clientVersion, gameID, outPath))
	return nil
}
