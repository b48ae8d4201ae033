package restclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms/r%201/messages", r.URL.EscapedPath())
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("size"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":"m1","roomId":"r 1","senderId":"42","content":"hi","attachments":[{"url":"u"}],"createdAt":"2024-05-01T12:00:00Z"}]`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL+"/", "tok", nil).FetchPage(context.Background(), "r 1", 2, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "42", msgs[0].SenderID)
	assert.Equal(t, []models.Attachment{{URL: "u"}}, msgs[0].Attachments)
	assert.False(t, msgs[0].CreatedAt.IsZero())
}

func TestFetchPageErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", nil).FetchPage(context.Background(), "r1", 0, 20)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestFetchPageNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(srv.URL, "", nil).FetchPage(context.Background(), "r1", 0, 20)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		f, err := files[1].Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "second", string(data))
		_ = json.NewEncoder(w).Encode(map[string][]string{"urls": {"https://cdn/1", "https://cdn/2"}})
	}))
	defer srv.Close()

	atts, err := New(srv.URL, "", nil).Upload(context.Background(), []models.Upload{
		{Name: "a.png", MimeType: "image/png", Data: []byte("first")},
		{Name: "b.txt", MimeType: "text/plain", Data: []byte("second")},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Attachment{
		{URL: "https://cdn/1", Name: "a.png", MimeType: "image/png"},
		{URL: "https://cdn/2", Name: "b.txt", MimeType: "text/plain"},
	}, atts)
}

func TestUploadNothing(t *testing.T) {
	atts, err := New("http://unused", "", nil).Upload(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, atts)
}
