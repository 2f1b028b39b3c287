package ipcserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// IPC authentication: a client presenting the correct
// session token completes the handshake and can exchange encrypted
// messages; a wrong token is rejected.
func TestHandshake_CorrectTokenSucceedsAndRoundTripsMessages(t *testing.T) {
	srv, err := New(nil, nil)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	var serverCipher *workerCipher
	done := make(chan error, 1)
	go func() {
		c, err := srv.Handshake(serverConn)
		serverCipher = c
		done <- err
	}()

	clientCipher, err := ClientHandshake(clientConn, srv.AuthToken())
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.NotNil(t, serverCipher)

	plaintext := []byte("hello debugger")
	frame, err := clientCipher.Encrypt(plaintext)
	require.NoError(t, err)

	recvDone := make(chan struct{})
	var decrypted []byte
	go func() {
		body, err := readFrame(serverConn)
		require.NoError(t, err)
		decrypted, err = serverCipher.DecryptBody(body)
		require.NoError(t, err)
		close(recvDone)
	}()

	_, err = clientConn.Write(frame)
	require.NoError(t, err)

	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message round trip")
	}
	assert.Equal(t, plaintext, decrypted)
}

func TestHandshake_WrongTokenIsRejected(t *testing.T) {
	srv, err := New(nil, nil)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := srv.Handshake(serverConn)
		done <- err
	}()

	_, err = ClientHandshake(clientConn, "wrong-token-entirely")
	assert.Error(t, err)

	handshakeErr := <-done
	assert.ErrorIs(t, handshakeErr, ErrTokenMismatch)
}

func TestWorkerCipher_EncryptDecryptRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	wc, err := newWorkerCipher(key)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	frame, err := wc.Encrypt(plaintext)
	require.NoError(t, err)

	length := frame[:4]
	_ = length
	decrypted, err := wc.DecryptBody(frame[4:])
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestWorkerCipher_Encrypt_RejectsOversizedMessage(t *testing.T) {
	var key [32]byte
	wc, err := newWorkerCipher(key)
	require.NoError(t, err)

	tooBig := make([]byte, MaxPlaintextSize+1)
	_, err = wc.Encrypt(tooBig)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestRateLimiter_AllowsUpToMaxThenRejects(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < RateLimitMax; i++ {
		assert.True(t, r.Allow())
	}
	assert.False(t, r.Allow())
}

func TestRateLimiter_ResetsAfterWindow(t *testing.T) {
	r := NewRateLimiter()
	r.windowStart = time.Now().Add(-RateLimitWindow - time.Second)
	r.count = RateLimitMax

	assert.True(t, r.Allow())
}
