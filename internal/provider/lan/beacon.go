package lan

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/coop-adventure/sessions/internal/session"
)

// gameTag is carried in every packet so unrelated datagrams on the beacon
// port are ignored.
const gameTag = "coop-adventure/1"

const maxPacketSize = 8 << 10

type packetType string

const (
	packetQuery     packetType = "query"
	packetBeacon    packetType = "beacon"
	packetJoin      packetType = "join"
	packetJoinReply packetType = "join_result"
	packetLeave     packetType = "leave"
)

type packet struct {
	Game      string                `json:"game"`
	Type      packetType            `json:"type"`
	Nonce     string                `json:"nonce"`
	SessionID string                `json:"session_id,omitempty"`
	Session   *session.SearchResult `json:"session,omitempty"`
	Result    *session.JoinResult   `json:"result,omitempty"`
	Address   string                `json:"address,omitempty"`
}

func encodePacket(p packet) ([]byte, error) {
	p.Game = gameTag
	return json.Marshal(p)
}

func decodePacket(data []byte) (packet, bool) {
	var p packet
	if err := json.Unmarshal(data, &p); err != nil || p.Game != gameTag {
		return packet{}, false
	}
	return p, true
}

// responder answers queries and join requests for the sessions this process
// hosts.
type responder struct {
	conn   *net.UDPConn
	handle func(packet) []packet
	wg     sync.WaitGroup
}

func listenResponder(addr string, handle func(packet) []packet) (*responder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}
	r := &responder{conn: conn, handle: handle}
	r.wg.Add(1)
	go r.serve()
	return r, nil
}

func (r *responder) port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *responder) serve() {
	defer r.wg.Done()
	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("lan: beacon read error: %v", err)
			continue
		}
		req, ok := decodePacket(buf[:n])
		if !ok {
			continue
		}
		for _, reply := range r.handle(req) {
			data, err := encodePacket(reply)
			if err != nil {
				log.Printf("lan: encoding %s reply: %v", reply.Type, err)
				continue
			}
			if _, err := r.conn.WriteToUDP(data, from); err != nil {
				log.Printf("lan: reply to %s: %v", from, err)
			}
		}
	}
}

func (r *responder) close() {
	r.conn.Close()
	r.wg.Wait()
}
