package upload

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
	uploadService "github.com/zhouzirui/echoes/backend/internal/service/upload"
	"github.com/zhouzirui/echoes/backend/pkg/utils"
)

func setupRouter(t *testing.T, maxBytes int64) (*chi.Mux, *scheduler.Manual, *profile.MemoryStore) {
	t.Helper()
	clock := scheduler.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := profile.NewMemoryStore(profile.Seed())
	uploads := uploadService.NewController(uploadService.Options{Profiles: store, Scheduler: clock})
	t.Cleanup(uploads.Close)

	r := chi.NewRouter()
	New(uploads, maxBytes).RegisterRoutes(r)
	return r, clock, store
}

type form struct {
	fields map[string]string
	files  map[string][]byte
}

func (f form) request(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range f.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range f.files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJob(t *testing.T, resp *httptest.ResponseRecorder) uploadService.Job {
	t.Helper()
	var job uploadService.Job
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &job))
	return job
}

func TestVoiceUploadLifecycle(t *testing.T) {
	r, clock, store := setupRouter(t, 0)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, form{
		fields: map[string]string{"profileId": "robert", "kind": "voice"},
		files:  map[string][]byte{"a.wav": []byte("RIFF1"), "b.wav": []byte("RIFF2")},
	}.request(t))
	require.Equal(t, http.StatusAccepted, resp.Code)
	job := decodeJob(t, resp)
	assert.Equal(t, uploadService.Uploading, job.Status)
	assert.Equal(t, 2, job.Items)

	clock.Advance(20 * 200 * time.Millisecond)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/uploads/"+job.ID, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	got := decodeJob(t, resp)
	assert.Equal(t, uploadService.Completed, got.Status)
	assert.Equal(t, 100, got.Progress)

	p, ok := store.FindByID("robert")
	require.True(t, ok)
	assert.Equal(t, 2, p.VoiceSamples)
}

func TestTextUploadAcceptsInlineText(t *testing.T) {
	r, clock, store := setupRouter(t, 0)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, form{
		fields: map[string]string{"profileId": "sarah", "kind": "text", "text": "Dear grandchildren..."},
	}.request(t))
	require.Equal(t, http.StatusAccepted, resp.Code)
	job := decodeJob(t, resp)
	assert.Equal(t, 1, job.Items)

	clock.Advance(10 * 300 * time.Millisecond)
	p, ok := store.FindByID("sarah")
	require.True(t, ok)
	assert.Equal(t, 1, p.TextSamples)
}

func TestUploadValidation(t *testing.T) {
	r, _, _ := setupRouter(t, 0)

	cases := []struct {
		name   string
		form   form
		status int
		msg    string
	}{
		{
			name:   "no audio",
			form:   form{fields: map[string]string{"profileId": "robert", "kind": "voice"}},
			status: http.StatusUnprocessableEntity,
			msg:    "Please record or upload at least one audio file",
		},
		{
			name:   "no text",
			form:   form{fields: map[string]string{"profileId": "robert", "kind": "text", "text": "  "}},
			status: http.StatusUnprocessableEntity,
			msg:    "Please provide at least one text sample",
		},
		{
			name:   "no profile",
			form:   form{fields: map[string]string{"kind": "voice"}, files: map[string][]byte{"a.wav": []byte("x")}},
			status: http.StatusUnprocessableEntity,
			msg:    "Please select an ancestor profile",
		},
		{
			name:   "bad kind",
			form:   form{fields: map[string]string{"profileId": "robert", "kind": "video"}},
			status: http.StatusUnprocessableEntity,
			msg:    "kind must be voice or text",
		},
		{
			name:   "unknown profile",
			form:   form{fields: map[string]string{"profileId": "nobody"}, files: map[string][]byte{"a.wav": []byte("x")}},
			status: http.StatusNotFound,
			msg:    "profile not found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, tc.form.request(t))
			require.Equal(t, tc.status, resp.Code)
			var body utils.ErrorBody
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Equal(t, tc.msg, body.Error)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	r, _, _ := setupRouter(t, 64)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, form{
		fields: map[string]string{"profileId": "robert"},
		files:  map[string][]byte{"big.wav": bytes.Repeat([]byte("a"), 1024)},
	}.request(t))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCancelUpload(t *testing.T) {
	r, clock, _ := setupRouter(t, 0)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, form{
		fields: map[string]string{"profileId": "joe"},
		files:  map[string][]byte{"a.wav": []byte("RIFF")},
	}.request(t))
	require.Equal(t, http.StatusAccepted, resp.Code)
	job := decodeJob(t, resp)

	clock.Advance(time.Second)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/uploads/"+job.ID, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	got := decodeJob(t, resp)
	assert.Equal(t, uploadService.Cancelled, got.Status)
	assert.Equal(t, 25, got.Progress)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/uploads/"+job.ID, nil))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/uploads/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
