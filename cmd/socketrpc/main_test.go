package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"socketrpc/codec"
	"socketrpc/server"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestGreet(t *testing.T) {
	got, err := greet(context.Background(), json.RawMessage(`"Socket"`))
	if err != nil || got != "Hello Socket" {
		t.Fatalf("expect Hello Socket, got %v (%v)", got, err)
	}

	_, err = greet(context.Background(), json.RawMessage(`"socket"`))
	var appErr *codec.Error
	if !errors.As(err, &appErr) || appErr.Error() != msgInvalidName || appErr.Kind() != kindInvalidName {
		t.Fatalf("unexpected error %v", err)
	}
	details, _ := appErr.Details().(map[string]string)
	if details["name"] != "socket" {
		t.Fatalf("expect details {name: socket}, got %v", appErr.Details())
	}

	if _, err := greet(context.Background(), json.RawMessage(`""`)); err == nil {
		t.Fatal("expect an empty name rejected")
	}
	if _, err := greet(context.Background(), json.RawMessage(`{"name":"Ada"}`)); !codec.IsKind(err, kindInvalidName) {
		t.Fatalf("expect a non-string body rejected, got %v", err)
	}
	if got, _ := greet(context.Background(), json.RawMessage(`"Éva"`)); got != "Hello Éva" {
		t.Fatalf("expect non-ASCII uppercase accepted, got %v", got)
	}
}

func TestBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--no-such-flag"}, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Fatalf("expect exit 2, got %d", code)
	}
	if code := run([]string{"extra"}, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Fatalf("expect exit 2 for positional arguments, got %d", code)
	}
}

func startGreeter(t *testing.T) string {
	t.Helper()
	address := filepath.Join(t.TempDir(), "greet.sock")
	svc, err := server.Start(context.Background(), address, greet)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Stop(server.ReasonShutdown) })
	return address
}

func TestSendFlag(t *testing.T) {
	address := startGreeter(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--socket", address, "--send", "Ada"}, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Fatalf("expect exit 0, got %d: %s", code, stderr.String())
	}
	if stdout.String() != "Hello Ada\n" {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"--socket", address, "--send", "ada"}, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Fatalf("expect exit 1 for a rejected name, got %d", code)
	}
	if !strings.Contains(stderr.String(), kindInvalidName+": "+msgInvalidName) {
		t.Fatalf("expect the remote failure printed, got %q", stderr.String())
	}
}

func TestInteractiveDefault(t *testing.T) {
	address := startGreeter(t)

	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader("Ada\ngrace\n")
	if code := run([]string{"--socket", address}, stdin, &stdout, &stderr); code != 0 {
		t.Fatalf("expect exit 0, got %d: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "> ") {
		t.Fatalf("expect the configured prompt, got %q", out)
	}
	if !strings.Contains(out, "Hello Ada\n") || !strings.Contains(out, kindInvalidName+": "+msgInvalidName) {
		t.Fatalf("unexpected session output %q", out)
	}
}

func TestSendWithoutService(t *testing.T) {
	var stdout, stderr bytes.Buffer
	address := filepath.Join(t.TempDir(), "missing.sock")
	if code := run([]string{"--socket", address, "--send", "Ada"}, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Fatalf("expect exit 1 without a service, got %d", code)
	}
}
