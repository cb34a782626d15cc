package main

import (
	"context"
	"encoding/json"
	"socketrpc/codec"
	"socketrpc/server"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

const (
	kindInvalidName = "InvalidNameError"
	msgInvalidName  = "Name is invalid. It must start with an uppercase letter."
)

// greet answers a name with a greeting. Names must start with an uppercase
// letter.
func greet(ctx context.Context, body json.RawMessage) (any, error) {
	var name string
	if err := json.Unmarshal(body, &name); err != nil {
		return nil, codec.NewError(kindInvalidName, "Name must be a string.", map[string]json.RawMessage{"name": body})
	}
	first, _ := utf8.DecodeRuneInString(name)
	if name == "" || !unicode.IsUpper(first) {
		return nil, codec.NewError(kindInvalidName, msgInvalidName, map[string]string{"name": name})
	}

	log.WithFields(log.Fields{"request_id": server.RequestID(ctx), "name": name}).Debug("greeting")
	return "Hello " + name, nil
}
