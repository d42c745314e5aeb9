package transport

import (
	"context"
	"errors"
	"net"
	"testing"
)

// TestProxyStatus tests ProxyStatus String and Err methods.
func TestProxyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  ProxyStatus
		text    string
		wantErr error
	}{
		{ProxyStatusOK, "OK", nil},
		{ProxyStatusWrongType, "wrong type (not SOCKS5)", ErrProxyNotSOCKS5},
		{ProxyStatusCannotConnect, "cannot connect", ErrProxyCannotConnect},
		{ProxyStatusTimeout, "timeout", ErrProxyTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			if got := tt.status.String(); got != tt.text {
				t.Errorf("String() = %q, want %q", got, tt.text)
			}
			if err := tt.status.Err(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Err() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		unknown := ProxyStatus(99)
		if unknown.String() != "unknown" {
			t.Errorf("expected unknown, got %q", unknown.String())
		}
		if unknown.Err() == nil {
			t.Error("expected an error for an unknown status")
		}
	})
}

// fakeProxy accepts one connection and answers with the given replies,
// reading the client's message before each one.
func fakeProxy(t *testing.T, replies ...[]byte) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock server: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		for _, reply := range replies {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}()
	return listener.Addr().String()
}

// TestCheckProxy tests the SOCKS5 proxy probe.
func TestCheckProxy(t *testing.T) {
	t.Parallel()

	t.Run("CannotConnect for a closed port", func(t *testing.T) {
		t.Parallel()

		listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatal(err)
		}
		addr := listener.Addr().String()
		_ = listener.Close()

		if status := CheckProxy(t.Context(), addr); status != ProxyStatusCannotConnect {
			t.Errorf("expected CannotConnect, got %v", status)
		}
	})

	t.Run("WrongType for an HTTP server", func(t *testing.T) {
		t.Parallel()

		addr := fakeProxy(t, []byte("HTTP/1.1 200 OK\r\n\r\n"))
		if status := CheckProxy(t.Context(), addr); status != ProxyStatusWrongType {
			t.Errorf("expected WrongType, got %v", status)
		}
	})

	t.Run("WrongType when authentication is required", func(t *testing.T) {
		t.Parallel()

		addr := fakeProxy(t, []byte{0x05, 0xFF})
		if status := CheckProxy(t.Context(), addr); status != ProxyStatusWrongType {
			t.Errorf("expected WrongType, got %v", status)
		}
	})

	t.Run("OK when CONNECT gets any reply", func(t *testing.T) {
		t.Parallel()

		addr := fakeProxy(t,
			[]byte{0x05, 0x00},
			[]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
		)
		if status := CheckProxy(t.Context(), addr); status != ProxyStatusOK {
			t.Errorf("expected OK, got %v", status)
		}
	})

	t.Run("WrongType for a bad CONNECT reply version", func(t *testing.T) {
		t.Parallel()

		addr := fakeProxy(t,
			[]byte{0x05, 0x00},
			[]byte{0x04, 0x00, 0x00, 0x01},
		)
		if status := CheckProxy(t.Context(), addr); status != ProxyStatusWrongType {
			t.Errorf("expected WrongType, got %v", status)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		status := CheckProxy(ctx, "127.0.0.1:9")
		if status != ProxyStatusCannotConnect && status != ProxyStatusTimeout {
			t.Errorf("expected CannotConnect or Timeout, got %v", status)
		}
	})
}
