package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPOCRClientRecognizesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model string `json:"model"`
			Image string `json:"image"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-ocr", req.Model)
		require.NotEmpty(t, req.Image)

		json.NewEncoder(w).Encode(map[string]any{
			"text":       "这是识别出的页面文字。",
			"confidence": 0.93,
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPOCRClient(HTTPOCROptions{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-ocr",
	})
	require.NoError(t, err)

	result, err := client.RecognizePage(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, "这是识别出的页面文字。", result.Text)
	require.InDelta(t, 0.93, result.Confidence, 1e-9)
}

func TestHTTPOCRClientBackendErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPOCRClient(HTTPOCROptions{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = client.RecognizePage(context.Background(), []byte{1})
	require.ErrorIs(t, err, ErrOCRUnavailable)
}

func TestHTTPOCRClientTransportErrorIsUnavailable(t *testing.T) {
	// 先拿到地址再关闭,模拟后端不可达
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	client, err := NewHTTPOCRClient(HTTPOCROptions{Endpoint: endpoint})
	require.NoError(t, err)

	_, err = client.RecognizePage(context.Background(), []byte{1})
	require.ErrorIs(t, err, ErrOCRUnavailable)
}

func TestHTTPOCRClientRejectsEmptyImage(t *testing.T) {
	client, err := NewHTTPOCRClient(HTTPOCROptions{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = client.RecognizePage(context.Background(), nil)
	require.ErrorIs(t, err, ErrOCRUnavailable)
}
