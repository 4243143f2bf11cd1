package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/semanticdata/voicemail-transcriber/internal/audio"
	"github.com/semanticdata/voicemail-transcriber/internal/audio/audiotest"
	"github.com/semanticdata/voicemail-transcriber/internal/config"
	"github.com/semanticdata/voicemail-transcriber/internal/session"
	"github.com/semanticdata/voicemail-transcriber/internal/storage/sqlite"
	"github.com/semanticdata/voicemail-transcriber/internal/transcription"
	"github.com/semanticdata/voicemail-transcriber/internal/voicemail"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

const spokenText = "Hello this is Ana calling about the water heater"

type stubProvider struct {
	err error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Transcribe(_ context.Context, req transcription.Request) (*transcription.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &transcription.Result{Text: spokenText, Provider: "stub", Model: req.Model, Language: req.Language}, nil
}

type testEnv struct {
	server   *httptest.Server
	provider *stubProvider
	config   *config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Transcription.Models = config.DefaultModels(config.ProviderOpenAI)
	cfg.Transcription.DefaultModel = "whisper-1"
	if mutate != nil {
		mutate(&cfg)
	}
	log := logger.NewNop()

	db, err := sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := sqlite.NewRecordStorage(db, log)
	if err != nil {
		t.Fatalf("NewRecordStorage: %v", err)
	}

	wav, err := audiotest.WAV(16000, 8000)
	if err != nil {
		t.Fatalf("failed to build wav: %v", err)
	}
	decoder := audio.NewDecoder(&audiotest.Converter{Output: wav}, t.TempDir(), log)

	provider := &stubProvider{}
	var models, languages []string
	for _, m := range cfg.Transcription.Models {
		models = append(models, m.Value)
	}
	for _, l := range cfg.Transcription.Languages {
		languages = append(languages, l.Value)
	}
	transcriber := transcription.NewService(provider, transcription.Options{
		Models:          models,
		Languages:       languages,
		DefaultModel:    cfg.Transcription.DefaultModel,
		DefaultLanguage: cfg.Transcription.DefaultLanguage,
	}, log)

	sessions := session.NewManager(session.Config{CookieName: cfg.Server.SessionCookieName}, store, log)
	service := voicemail.NewService(decoder, transcriber, store, sessions, log)

	router, err := NewRouter(service, sessions, nil, &cfg, log)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, provider: provider, config: &cfg}
}

// client returns a browser-like client that keeps cookies and does not follow redirects
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) get(t *testing.T, c *http.Client, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) upload(t *testing.T, c *http.Client, filename string, data []byte, fields map[string]string) (*http.Response, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if data != nil {
		fw, err := mw.CreateFormFile("audio", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()

	resp, err := c.Post(e.server.URL+"/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /transcribe: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) annotate(t *testing.T, c *http.Client, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := c.PostForm(e.server.URL+"/annotation", form)
	if err != nil {
		t.Fatalf("POST /annotation: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestIndexEmptyHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.get(t, env.client(t), "/")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "No saved entries yet.") {
		t.Error("empty history message missing")
	}
	if !strings.Contains(body, `value="whisper-1" selected`) {
		t.Error("default model not selected")
	}
	if len(resp.Cookies()) != 1 || resp.Cookies()[0].Name != "vmt_session" {
		t.Errorf("cookies = %v", resp.Cookies())
	}
}

func TestUploadSaveExportFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	resp, _ := env.upload(t, c, "voicemail.mp3", audiotest.MP3(), map[string]string{"model": "gpt-4o-transcribe", "language": "fr"})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("upload status = %d, location %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	_, page := env.get(t, c, "/")
	if !strings.Contains(page, "Transcription complete!") {
		t.Error("transcription flash missing")
	}
	if !strings.Contains(page, spokenText) {
		t.Error("transcript not shown in the annotation form")
	}
	if !strings.Contains(page, `value="gpt-4o-transcribe"`) {
		t.Error("model options missing")
	}

	_, page = env.get(t, c, "/")
	if strings.Contains(page, "Transcription complete!") {
		t.Error("flash shown twice")
	}

	resp, audioBody := env.get(t, c, "/draft/audio")
	if resp.StatusCode != http.StatusOK || audioBody != string(audiotest.MP3()) || resp.Header.Get("Content-Type") != "audio/mpeg" {
		t.Errorf("draft audio status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	form := url.Values{
		"action":     {"save"},
		"transcript": {spokenText},
		"name":       {"Ana Ruiz"},
		"phone":      {"555-0142"},
		"address":    {"44 Harbor Rd"},
		"notes":      {"Leaking since Monday"},
	}
	resp, _ = env.annotate(t, c, form)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("save status = %d", resp.StatusCode)
	}

	_, page = env.get(t, c, "/")
	if !strings.Contains(page, "Entry saved!") || !strings.Contains(page, "Entry 1: Ana Ruiz") {
		t.Error("saved entry missing from the sidebar")
	}
	if strings.Contains(page, "No saved entries yet.") {
		t.Error("empty history message shown after save")
	}

	resp, text := env.get(t, c, "/records/1/export")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err != nil || params["filename"] != "transcription_Ana Ruiz.txt" {
		t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	want := "Name: Ana Ruiz\nPhone: 555-0142\nAddress: 44 Harbor Rd\nNotes: Leaking since Monday\n---\nTranscription:\n" + spokenText + "\n"
	if text != want {
		t.Errorf("export = %q, want %q", text, want)
	}

	resp, audioBody = env.get(t, c, "/records/1/audio")
	if resp.StatusCode != http.StatusOK || audioBody != string(audiotest.MP3()) {
		t.Errorf("record audio status = %d", resp.StatusCode)
	}

	resp, all := env.get(t, c, "/records/export")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(all, "Entry 1: Ana Ruiz\nName: Ana Ruiz\n") {
		t.Errorf("export all = %d %q", resp.StatusCode, all)
	}

	resp, body := env.get(t, c, "/api/v1/records")
	var list struct {
		Count   int `json:"count"`
		Records []struct {
			Seq        int    `json:"seq"`
			Transcript string `json:"transcript"`
			Model      string `json:"model"`
		} `json:"records"`
	}
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("records JSON: %v", err)
	}
	if list.Count != 1 || list.Records[0].Seq != 1 || list.Records[0].Model != "gpt-4o-transcribe" {
		t.Errorf("records = %+v", list)
	}
}

func TestSavingTwiceAppendsInOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	env.upload(t, c, "a.mp3", audiotest.MP3(), nil)
	env.annotate(t, c, url.Values{"action": {"save"}, "name": {"First"}})
	env.annotate(t, c, url.Values{"action": {"save"}, "name": {"Second"}})

	_, page := env.get(t, c, "/")
	first := strings.Index(page, "Entry 1: First")
	second := strings.Index(page, "Entry 2: Second")
	if first < 0 || second < 0 || second < first {
		t.Error("history not in insertion order")
	}
}

func TestDownloadDoesNotSave(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	env.upload(t, c, "a.mp3", audiotest.MP3(), nil)
	resp, text := env.annotate(t, c, url.Values{"action": {"download"}, "notes": {"call back"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "transcription_entry.txt") {
		t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	if !strings.Contains(text, "Notes: call back\n") || !strings.Contains(text, spokenText) {
		t.Errorf("download = %q", text)
	}

	_, page := env.get(t, c, "/")
	if !strings.Contains(page, "No saved entries yet.") {
		t.Error("download should not save an entry")
	}
}

func TestTranscribeErrorsAreShownInline(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		providerErr error
		fields      map[string]string
		status      int
		message     string
	}{
		{"not audio", []byte("just some text, not a voicemail"), nil, nil, http.StatusUnprocessableEntity, "Unsupported audio file"},
		{"no network", audiotest.MP3(), transcription.ErrNetwork, nil, http.StatusBadGateway, "could not be reached"},
		{"no speech", audiotest.MP3(), transcription.ErrNoSpeech, nil, http.StatusBadGateway, "No speech was recognized"},
		{"no api key", audiotest.MP3(), transcription.ErrMissingAPIKey, nil, http.StatusInternalServerError, "not configured"},
		{"unknown model", audiotest.MP3(), nil, map[string]string{"model": "large"}, http.StatusBadRequest, "not available"},
		{"missing file", nil, nil, nil, http.StatusBadRequest, "Choose an audio file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.provider.err = tt.providerErr
			c := env.client(t)

			resp, page := env.upload(t, c, "vm.mp3", tt.data, tt.fields)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if !strings.Contains(page, tt.message) {
				t.Errorf("page does not show %q", tt.message)
			}
			if !strings.Contains(page, "<form") {
				t.Error("error should be rendered inside the page")
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.MaxUploadMB = 1 })
	big := append(audiotest.MP3(), make([]byte, 2<<20)...)

	resp, page := env.upload(t, env.client(t), "big.mp3", big, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(page, "1 MB upload limit") {
		t.Error("size limit message missing")
	}
}

func TestSaveWithoutDraft(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, page := env.annotate(t, env.client(t), url.Values{"action": {"save"}})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(page, "Upload and transcribe a voicemail first.") {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRecordsAreScopedToSession(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.client(t)
	env.upload(t, owner, "a.mp3", audiotest.MP3(), nil)
	env.annotate(t, owner, url.Values{"action": {"save"}, "name": {"Private"}})

	other := env.client(t)
	env.get(t, other, "/")
	for _, path := range []string{"/records/1/export", "/records/1/audio", "/draft/audio"} {
		if resp, _ := env.get(t, other, path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
	if resp, _ := env.get(t, other, "/records/abc/export"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d", resp.StatusCode)
	}
}

func TestOptionsAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	_, body := env.get(t, c, "/api/v1/options")
	var opts struct {
		Provider  string          `json:"provider"`
		Models    []config.Option `json:"models"`
		Languages []config.Option `json:"languages"`
	}
	if err := json.Unmarshal([]byte(body), &opts); err != nil {
		t.Fatalf("options JSON: %v", err)
	}
	if opts.Provider != "openai" || len(opts.Models) != 3 || len(opts.Languages) != 3 {
		t.Errorf("options = %+v", opts)
	}

	resp, body := env.get(t, c, "/api/v1/health")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	resp, css := env.get(t, c, "/static/style.css")
	if resp.StatusCode != http.StatusOK || !strings.Contains(css, ".sidebar") {
		t.Errorf("stylesheet status = %d", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Server.CORSAllowedOrigins = []string{"https://office.example"} })

	req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/api/v1/records", nil)
	req.Header.Set("Origin", "https://office.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://office.example" {
		t.Errorf("preflight = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/records", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}
