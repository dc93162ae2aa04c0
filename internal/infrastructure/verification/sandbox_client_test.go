package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxClient_Verify(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"PAN verified","data":{"name":"RAVI KUMAR"}}`))
	}))
	defer srv.Close()

	c := NewSandboxClient(srv.URL+"/", time.Second)
	res, err := c.Verify(context.Background(), &Request{
		Kind:    KindPan,
		UserRef: "9990001111",
		Fields:  map[string]string{"pan": "ABCDE1234F"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "RAVI KUMAR", res.Data["name"])
	assert.Equal(t, "/api/v1/verify-pan", gotPath)
	assert.Equal(t, "ABCDE1234F", gotBody["pan"])
}

func TestSandboxClient_FailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid OTP"}`))
	}))
	defer srv.Close()

	c := NewSandboxClient(srv.URL, time.Second)
	res, err := c.Verify(context.Background(), &Request{Kind: KindAadhaarOtpVerify, Fields: map[string]string{"otp": "000000"}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid OTP", res.Message)
}

func TestSandboxClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewSandboxClient(srv.URL, 50*time.Millisecond)
	_, err := c.Verify(context.Background(), &Request{Kind: KindBank, Fields: map[string]string{}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSandboxClient_UnknownKind(t *testing.T) {
	c := NewSandboxClient("http://127.0.0.1:1", time.Second)
	_, err := c.Verify(context.Background(), &Request{Kind: "PASSPORT"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
