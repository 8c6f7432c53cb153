package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
)

var ErrHandshake = errors.New("carbonara: websocket handshake failed")

// RFC 6455 §4.2.2 challenge constant.
const acceptMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Upgrade requests larger than this are rejected outright.
const maxHandshakeBytes = 8192

// AcceptToken computes the Sec-WebSocket-Accept value for a client key.
func AcceptToken(key string) string {
	digest := sha1.Sum([]byte(key + acceptMagic))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// Upgrade performs the server side of the websocket opening handshake on
// a freshly accepted connection. A malformed request yields ErrHandshake;
// the caller drops that one connection and keeps listening.
func Upgrade(conn net.Conn) error {
	req, err := readRequest(conn)
	if err != nil {
		return err
	}

	upgraded := false
	key := ""
	for _, line := range strings.Split(req, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "upgrade":
			upgraded = strings.EqualFold(value, "websocket")
		case "sec-websocket-key":
			key = value
		}
	}
	if !upgraded || key == "" {
		return ErrHandshake
	}

	resp := fmt.Sprintf(
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Connection: Upgrade\r\n"+
			"Upgrade: websocket\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n",
		AcceptToken(key))
	if _, err := conn.Write([]byte(resp)); err != nil {
		return err
	}
	return nil
}

// readRequest consumes exactly the request head, one byte at a time, so
// a frame the client pipelined right behind the handshake stays in the
// socket for the frame reader.
func readRequest(conn net.Conn) (string, error) {
	buf := make([]byte, 0, 1024)
	one := make([]byte, 1)
	for {
		n, err := conn.Read(one)
		if n > 0 {
			buf = append(buf, one[0])
		}
		if len(buf) >= 4 && string(buf[len(buf)-4:]) == "\r\n\r\n" {
			return string(buf[:len(buf)-4]), nil
		}
		if len(buf) > maxHandshakeBytes {
			return "", ErrHandshake
		}
		if err != nil {
			return "", ErrHandshake
		}
	}
}
