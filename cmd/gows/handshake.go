package main

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// bearerTokenPolicy returns an [websocket.Callbacks.OnHandshake] callback
// that requires a valid HMAC-signed JWT in the "Sec-WebSocket-Protocol"
// header. Browsers can't set arbitrary headers during the WebSocket
// handshake, but they can set subprotocols, which is the conventional
// place to smuggle a bearer token through.
func bearerTokenPolicy(secret string) func(headers map[string]string) bool {
	key := []byte(secret)

	return func(headers map[string]string) bool {
		token := headers["Sec-WebSocket-Protocol"]
		if token == "" {
			return false
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return key, nil
		})
		return err == nil
	}
}
