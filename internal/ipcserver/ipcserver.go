// Package ipcserver implements the secure IPC transport that streams
// recorded events to a debugger UI: session handshake, AES-256-GCM
// per-message framing, and per-connection rate limiting.
package ipcserver

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/chronos-dev/agent/internal/metrics"
)

// handshakeHKDFInfo is the HKDF context string binding a derived wrapping
// key to this specific handshake step, so the same session token can never
// yield a reusable key for a different purpose.
const handshakeHKDFInfo = "chronos-ipc-handshake-wrap-key"

// deriveWrapKey expands the session token into a 256-bit AES key via
// HKDF-SHA256, used to wrap the real session key for the one handshake
// message that carries it.
func deriveWrapKey(token string) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(token), nil, []byte(handshakeHKDFInfo))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("ipcserver: derive wrap key: %w", err)
	}
	return key, nil
}

// MaxPlaintextSize bounds a single framed message.
const MaxPlaintextSize = 1 << 20 // 1 MiB

// RateLimitWindow is the per-connection message counter reset interval.
const RateLimitWindow = 60 * time.Second

// RateLimitMax is the maximum number of messages permitted within a
// RateLimitWindow before the connection is closed.
const RateLimitMax = 1000

const ivSize = 12

var (
	// ErrTokenMismatch is returned when a connecting client's session token
	// does not match the server's.
	ErrTokenMismatch = errors.New("ipcserver: session token mismatch")
	// ErrMessageTooLarge is returned when a plaintext exceeds MaxPlaintextSize.
	ErrMessageTooLarge = errors.New("ipcserver: plaintext exceeds maximum message size")
	// ErrFrameTooShort is returned when a received frame is too small to
	// contain an IV.
	ErrFrameTooShort = errors.New("ipcserver: frame shorter than IV")
	// ErrRateLimitExceeded is returned when a connection exceeds RateLimitMax
	// messages within RateLimitWindow.
	ErrRateLimitExceeded = errors.New("ipcserver: message rate limit exceeded")
)

// Session holds the per-server session token and AES-256 session key
// generated once at startup. The token is retrievable only through
// AuthToken, never logged or persisted.
type Session struct {
	token string
	key   [32]byte
}

// NewSession generates a fresh 128-bit-equivalent session token and a
// 256-bit AES key.
func NewSession() (*Session, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("ipcserver: generate session key: %w", err)
	}
	return &Session{token: uuid.New().String(), key: key}, nil
}

// AuthToken returns the session token. This is the only way to retrieve it;
// it is never written to a log.
func (s *Session) AuthToken() string {
	return s.token
}

// workerCipher caches one AES-256-GCM AEAD per worker goroutine so repeated
// messages on the same connection amortize cipher initialization.
type workerCipher struct {
	gcm cipher.AEAD
}

func newWorkerCipher(key [32]byte) (*workerCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("ipcserver: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ipcserver: new GCM: %w", err)
	}
	return &workerCipher{gcm: gcm}, nil
}

// Encrypt frames plaintext as (u32 length, iv(12), ciphertext+tag), with a
// fresh random 96-bit IV drawn from a cryptographically secure generator.
func (w *workerCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrMessageTooLarge
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("ipcserver: generate iv: %w", err)
	}

	ciphertext := w.gcm.Seal(nil, iv, plaintext, nil)

	body := make([]byte, ivSize+len(ciphertext))
	copy(body, iv)
	copy(body[ivSize:], ciphertext)

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// DecryptBody decrypts a frame body (everything after the u32 length
// prefix): iv(12) followed by ciphertext+tag.
func (w *workerCipher) DecryptBody(body []byte) ([]byte, error) {
	if len(body) < ivSize {
		return nil, ErrFrameTooShort
	}
	iv := body[:ivSize]
	ciphertext := body[ivSize:]
	return w.gcm.Open(nil, iv, ciphertext, nil)
}

// RateLimiter enforces the per-connection message cap: a counter reset
// every RateLimitWindow, closing the connection when RateLimitMax is
// exceeded within a window.
type RateLimiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewRateLimiter returns a fresh RateLimiter with its window starting now.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windowStart: time.Now()}
}

// Allow records one message and reports whether the connection remains
// within its rate limit.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.windowStart) > RateLimitWindow {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	return r.count <= RateLimitMax
}

// Server accepts connections on a named local socket and runs the
// handshake plus framed message loop for each.
type Server struct {
	session *Session
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a Server around a freshly generated Session.
func New(logger *slog.Logger, m *metrics.Metrics) (*Server, error) {
	session, err := NewSession()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{session: session, logger: logger, metrics: m}, nil
}

// AuthToken returns the current session's token.
func (s *Server) AuthToken() string {
	return s.session.AuthToken()
}

// Handshake runs the server side of the session handshake over conn: it
// reads the client's length-prefixed token, verifies it in constant time,
// derives a wrapping key from the server's own token via HKDF-SHA256, sends
// the encrypted session key frame, then the literal "OK" acknowledgment. It
// returns a workerCipher for subsequent framed traffic.
func (s *Server) Handshake(conn io.ReadWriter) (*workerCipher, error) {
	clientToken, err := readLengthPrefixedString(conn)
	if err != nil {
		return nil, fmt.Errorf("ipcserver: read client token: %w", err)
	}

	if !hmac.Equal([]byte(clientToken), []byte(s.session.token)) {
		return nil, ErrTokenMismatch
	}

	derivedKey, err := deriveWrapKey(s.session.token)
	if err != nil {
		return nil, err
	}
	wrapCipher, err := newWorkerCipher(derivedKey)
	if err != nil {
		return nil, err
	}

	frame, err := wrapCipher.Encrypt(s.session.key[:])
	if err != nil {
		return nil, err
	}
	// frame already carries its own u32 length prefix; write the body only
	// per the wire format (len, iv||ciphertext), then "OK".
	if err := writeAll(conn, frame); err != nil {
		return nil, fmt.Errorf("ipcserver: send session key frame: %w", err)
	}
	if err := writeAll(conn, []byte("OK")); err != nil {
		return nil, fmt.Errorf("ipcserver: send handshake ack: %w", err)
	}

	return newWorkerCipher(s.session.key)
}

// ClientHandshake runs the client side of the handshake: it sends token,
// reads back the encrypted session key frame and "OK" ack, and returns a
// workerCipher derived from the decrypted session key.
func ClientHandshake(conn io.ReadWriter, token string) (*workerCipher, error) {
	if err := writeLengthPrefixedString(conn, token); err != nil {
		return nil, fmt.Errorf("ipcserver: send token: %w", err)
	}

	body, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("ipcserver: read session key frame: %w", err)
	}

	derivedKey, err := deriveWrapKey(token)
	if err != nil {
		return nil, err
	}
	wrapCipher, err := newWorkerCipher(derivedKey)
	if err != nil {
		return nil, err
	}
	sessionKeyBytes, err := wrapCipher.DecryptBody(body)
	if err != nil {
		return nil, fmt.Errorf("ipcserver: decrypt session key: %w", err)
	}

	ack := make([]byte, 2)
	if _, err := io.ReadFull(conn, ack); err != nil {
		return nil, fmt.Errorf("ipcserver: read ack: %w", err)
	}
	if string(ack) != "OK" {
		return nil, errors.New("ipcserver: missing handshake ack")
	}

	var key [32]byte
	copy(key[:], sessionKeyBytes)
	return newWorkerCipher(key)
}

// ServeConnection runs the framed, rate-limited message loop for a single
// accepted connection: decrypt and dispatch inbound frames via onMessage
// until the connection closes or the rate limit is exceeded.
func (s *Server) ServeConnection(conn net.Conn, onMessage func(plaintext []byte)) {
	defer conn.Close()

	wc, err := s.Handshake(conn)
	if err != nil {
		s.logger.Warn("ipcserver: handshake failed", "error", err, "remote", conn.RemoteAddr())
		return
	}

	limiter := NewRateLimiter()

	for {
		body, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("ipcserver: connection read ended", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			s.logger.Warn("ipcserver: closing connection, rate limit exceeded", "remote", conn.RemoteAddr())
			if s.metrics != nil {
				s.metrics.RecordIPCRateLimitClosure()
			}
			return
		}

		plaintext, err := wc.DecryptBody(body)
		if err != nil {
			s.logger.Warn("ipcserver: decrypt failed, dropping frame", "error", err)
			continue
		}

		onMessage(plaintext)
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// readLengthPrefixedString reads the phase-1 handshake token, framed as
// length(u16) || token_utf8 — distinct from the u32-length framing used for
// phase 2/3 traffic.
func readLengthPrefixedString(r io.Reader) (string, error) {
	var lengthBuf [2]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint16(lengthBuf[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", err
	}
	return string(body), nil
}

// writeLengthPrefixedString writes the phase-1 handshake token, framed as
// length(u16) || token_utf8.
func writeLengthPrefixedString(w io.Writer, s string) error {
	frame := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(s)))
	copy(frame[2:], s)
	return writeAll(w, frame)
}

func writeAll(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}
