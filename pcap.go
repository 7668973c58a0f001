package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"

	"goclash/ccproto"
)

// maxReplayGap caps how long replay sleeps between captured packets.
const maxReplayGap = 2 * time.Second

func openPacketSource(f *os.File) (*gopacket.PacketSource, error) {
	if ng, err := pcapgo.NewNgReader(f, pcapgo.NgReaderOptions{}); err == nil {
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, err
	}
	return gopacket.NewPacketSource(r, r.LinkType()), nil
}

// ccStreamFactory builds one frame scanner per TCP direction. Which side
// a stream belongs to is decided by its first frame id: the client
// speaks first on both hops.
type ccStreamFactory struct {
	onClient func(ccproto.Frame)
	onServer func(ccproto.Frame)
}

func (f *ccStreamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	return &ccStream{factory: f}
}

type ccStream struct {
	factory *ccStreamFactory
	buf     bytes.Buffer
	decided bool
	client  bool
	dead    bool
}

func (s *ccStream) Reassembled(rs []tcpassembly.Reassembly) {
	if s.dead {
		return
	}
	for _, r := range rs {
		if len(r.Bytes) > 0 {
			s.buf.Write(r.Bytes)
		}
	}
	if !s.decided && s.buf.Len() >= 4 {
		id := binary.LittleEndian.Uint16(s.buf.Bytes()[2:4])
		s.client = id == ccproto.MsgConnectLoginServer || id == ccproto.MsgConnectGameServer
		s.decided = true
	}
	for {
		f, n, err := ccproto.ParseFrame(s.buf.Bytes(), 0)
		if err != nil {
			// lost segment or a capture that starts mid-stream; nothing
			// after this point scans cleanly
			s.dead = true
			s.buf.Reset()
			return
		}
		if n == 0 {
			return
		}
		s.buf.Next(n)
		sink := s.factory.onServer
		if s.client {
			sink = s.factory.onClient
		}
		if sink != nil {
			sink(f)
		}
	}
}

func (s *ccStream) ReassemblyComplete() {}

// scanPCAP feeds every TCP segment in the capture through the factory.
// pace sleeps the captured inter-packet gaps, capped at maxReplayGap.
func scanPCAP(ctx context.Context, path string, factory *ccStreamFactory, pace bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	source, err := openPacketSource(f)
	if err != nil {
		return err
	}
	pool := tcpassembly.NewStreamPool(factory)
	assembler := tcpassembly.NewAssembler(pool)

	var prevTS time.Time
	for {
		select {
		case <-ctx.Done():
			assembler.FlushAll()
			return ctx.Err()
		default:
		}
		pkt, err := source.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		ts := pkt.Metadata().CaptureInfo.Timestamp
		if pace && !prevTS.IsZero() {
			if d := ts.Sub(prevTS); d > 0 {
				if d > maxReplayGap {
					d = maxReplayGap
				}
				time.Sleep(d)
			}
		}

		netLayer := pkt.NetworkLayer()
		if netLayer == nil {
			continue
		}
		tcp, ok := pkt.TransportLayer().(*layers.TCP)
		if !ok {
			continue
		}
		assembler.AssembleWithTimestamp(netLayer.NetworkFlow(), tcp, ts)
		prevTS = ts
	}
	assembler.FlushAll()
	return nil
}

// loginRequestFromPCAP pulls the first login request payload out of a
// packet capture.
func loginRequestFromPCAP(path string) ([]byte, error) {
	var payload []byte
	factory := &ccStreamFactory{
		onClient: func(f ccproto.Frame) {
			if payload != nil || f.ID != ccproto.MsgConnectLoginServer {
				return
			}
			if _, _, _, err := ccproto.ParseLoginRequest(f.Payload); err == nil {
				payload = append([]byte(nil), f.Payload...)
			}
		},
	}
	if err := scanPCAP(context.Background(), path, factory, false); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("no login request in capture")
	}
	return payload, nil
}

// runReplay plays a capture back through the chat pipeline as if the
// session were live. fast skips the captured timing gaps.
func runReplay(ctx context.Context, path string, fast bool) error {
	type chatKey struct {
		id         uint64
		name, text string
	}
	seen := make(map[chatKey]struct{})
	factory := &ccStreamFactory{
		onServer: func(f ccproto.Frame) {
			msg, err := ccproto.DecodeServerMessage(f)
			if err != nil {
				logDebug("replay frame 0x%04x: %v", f.ID, err)
				return
			}
			switch m := msg.(type) {
			case ccproto.LoginValidate:
				consoleInfo(fmt.Sprintf("login accepted, game server at %s", m.Addr()))
			case ccproto.GameLogin:
				consoleInfo("session key granted")
			case ccproto.WorldChat:
				// newest first on the wire; polls repeat recent history
				for i := len(m.Messages) - 1; i >= 0; i-- {
					cm := m.Messages[i]
					k := chatKey{cm.PlayerID, cm.Name, cm.Text}
					if _, ok := seen[k]; ok {
						continue
					}
					seen[k] = struct{}{}
					chatMessage(ccproto.ChatEvent{
						PlayerID: cm.PlayerID,
						Sender:   cm.Name,
						Text:     cm.Text,
						Time:     time.Now(),
					})
				}
			case ccproto.Unrecognized:
				logDebug("replay skipping frame 0x%04x (%d bytes)", m.ID, m.Size)
			}
		},
		onClient: func(f ccproto.Frame) {
			logDebugPacket(fmt.Sprintf("client frame 0x%04x", f.ID), f.Payload)
		},
	}
	return scanPCAP(ctx, path, factory, !fast)
}
