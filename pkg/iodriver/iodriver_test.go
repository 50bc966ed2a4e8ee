package iodriver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/security"
)

func rootCtx() security.Context {
	return security.Context{User: security.UserInfo{UID: 0}}
}

func TestCreateIOHandlerInsecureBypassesToken(t *testing.T) {
	dir := t.TempDir()
	pfn := filepath.Join(dir, "f")
	if err := os.WriteFile(pfn, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tokens := security.NewTokenAuthority("secret")
	d := New(tokens, nil)
	h, err := d.CreateIOHandler(rootCtx(), pfn, ReadOnly|Insecure, dmval.New(), 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	buf := make([]byte, 5)
	n, err := h.Read(buf)
	if err != nil && err.Error() != "EOF" {
		t.Fatal(err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("got %q (%d)", buf, n)
	}
}

func TestCreateIOHandlerRejectsMissingToken(t *testing.T) {
	dir := t.TempDir()
	pfn := filepath.Join(dir, "f")
	if err := os.WriteFile(pfn, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tokens := security.NewTokenAuthority("secret")
	d := New(tokens, nil)
	if _, err := d.CreateIOHandler(rootCtx(), pfn, ReadOnly, dmval.New(), 0644); err == nil {
		t.Fatal("expected a token-verification failure without a token")
	}
}

func TestCreateIOHandlerAcceptsValidToken(t *testing.T) {
	dir := t.TempDir()
	pfn := filepath.Join(dir, "f")
	if err := os.WriteFile(pfn, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tokens := security.NewTokenAuthority("secret")
	d := New(tokens, nil)
	tok, err := tokens.Mint("client-1", pfn, security.ModeRead, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := rootCtx()
	ctx.Creds.ClientDN = "client-1"
	h, err := d.CreateIOHandler(ctx, pfn, ReadOnly, dmval.New().Set("token", tok), 0644)
	if err != nil {
		t.Fatal(err)
	}
	h.Close()
}

func TestHandlePwritePreadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pfn := filepath.Join(dir, "f")

	tokens := security.NewTokenAuthority("secret")
	d := New(tokens, nil)
	h, err := d.CreateIOHandler(rootCtx(), pfn, ReadWrite|Create|Insecure, dmval.New(), 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Pwrite([]byte("world"), 10); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := h.Pread(buf, 10); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "world" {
		t.Fatalf("got %q", buf)
	}

	size, err := h.Fstat()
	if err != nil {
		t.Fatal(err)
	}
	if size != 15 {
		t.Fatalf("expected size 15, got %d", size)
	}
}

func TestHandleSeekTellEof(t *testing.T) {
	dir := t.TempDir()
	pfn := filepath.Join(dir, "f")
	if err := os.WriteFile(pfn, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	tokens := security.NewTokenAuthority("secret")
	d := New(tokens, nil)
	h, err := d.CreateIOHandler(rootCtx(), pfn, ReadOnly|Insecure, dmval.New(), 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := h.Seek(10, 0); err != nil {
		t.Fatal(err)
	}
	if h.Tell() != 10 {
		t.Fatalf("expected pos 10, got %d", h.Tell())
	}
	eof, err := h.Eof()
	if err != nil {
		t.Fatal(err)
	}
	if !eof {
		t.Fatal("expected eof at end of a 10-byte file")
	}
}
