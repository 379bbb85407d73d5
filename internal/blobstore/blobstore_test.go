package blobstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:  endpoint,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "custard-uploads",
	}
}

func TestFetchCSVReturnsBodyAndLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "access", r.URL.Query().Get("access_key"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		w.Write([]byte("name,age\nalice,30\n"))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	data, sourceBytes, err := c.FetchCSV(context.Background(), "file-1.csv")

	require.NoError(t, err)
	assert.Equal(t, "name,age\nalice,30\n", string(data))
	assert.Equal(t, int64(len(data)), sourceBytes)
}

func TestFetchCSVPropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, _, err := c.FetchCSV(context.Background(), "missing.csv")

	assert.Error(t, err)
}

func TestUploadCSVSendsBytesAndReturnsGeneratedBlobKey(t *testing.T) {
	var receivedMethod string
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	blobKey, err := c.UploadCSV(context.Background(), []byte("a,b\n1,2\n"))

	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, receivedMethod)
	assert.Equal(t, "a,b\n1,2\n", string(receivedBody))
	assert.Contains(t, blobKey, ".csv")
}

func TestUploadCSVPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.UploadCSV(context.Background(), []byte("data"))

	assert.Error(t, err)
}

func TestSignedURLDiffersByMethod(t *testing.T) {
	c := New(testConfig("https://blob.example.com"))

	get := c.signedURL(http.MethodGet, "file-1.csv")
	put := c.signedURL(http.MethodPut, "file-1.csv")

	assert.NotEqual(t, get, put)
}
