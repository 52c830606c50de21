package distribution

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/internal/certs"
	"github.com/zsiec/rawvbi/internal/pipeline"
	"github.com/zsiec/rawvbi/internal/recordio"
	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cert, err := certs.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	srv, err := NewServer(ServerConfig{
		Addr: ":0",
		Cert: cert,
		StreamLister: func() []StreamInfo {
			return []StreamInfo{
				{Key: "stream1", Viewers: 2, Format: "raw"},
				{Key: "stream2", Viewers: 0, Format: "records"},
			}
		},
		SRTList: func() []SRTPullInfo { return nil },
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestHandleListStreams(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	handler := srv.APIHandler()

	req := httptest.NewRequest("GET", "/api/streams", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var streams []StreamInfo
	if err := json.NewDecoder(rec.Body).Decode(&streams); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(streams))
	}
}

func TestHandleListStreamsEmpty(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	srv, err := NewServer(ServerConfig{
		Addr: ":0",
		Cert: cert,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	handler := srv.APIHandler()

	req := httptest.NewRequest("GET", "/api/streams", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := strings.TrimSpace(rec.Body.String())
	if body != "[]" {
		t.Fatalf("body = %q, want %q", body, "[]")
	}
}

func TestHandleCertHash(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	handler := srv.APIHandler()

	req := httptest.NewRequest("GET", "/api/cert-hash", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp certHashResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hash == "" {
		t.Fatal("hash is empty")
	}
}

func TestHandleStreamDebugNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	handler := srv.APIHandler()

	req := httptest.NewRequest("GET", "/api/streams/nonexistent/debug", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleSRTPullCreateMissingFields(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.config.SRTPull = func(SRTPullInfo) error { return nil }
	handler := srv.APIHandler()

	req := httptest.NewRequest("POST", "/api/srt-pull", strings.NewReader(`{"address":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleSRTPullNotConfigured(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	handler := srv.APIHandler()

	req := httptest.NewRequest("POST", "/api/srt-pull", strings.NewReader(`{"address":"srt://host:6000","streamKey":"test"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
}

func TestHandleSRTPullStopMissingKey(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.config.SRTStop = func(_ string) error { return nil }
	handler := srv.APIHandler()

	req := httptest.NewRequest("DELETE", "/api/srt-pull", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCORSHeaders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	handler := srv.APIHandler()

	req := httptest.NewRequest("GET", "/api/streams", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cors := rec.Header().Get("Access-Control-Allow-Origin")
	if cors != "*" {
		t.Fatalf("CORS header = %q, want %q", cors, "*")
	}
}

func TestErrorResponsesAreJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	handler := srv.APIHandler()

	req := httptest.NewRequest("POST", "/api/srt-pull", strings.NewReader(`{"address":"srt://host:6000","streamKey":"test"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want %q", ct, "application/json")
	}

	var errResp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp["error"] == "" {
		t.Fatal("expected non-empty error field")
	}
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}

	t.Run("missing cert", func(t *testing.T) {
		t.Parallel()
		_, err := NewServer(ServerConfig{Addr: ":4443"})
		if err == nil {
			t.Fatal("expected error for missing cert")
		}
	})

	t.Run("missing addr", func(t *testing.T) {
		t.Parallel()
		_, err := NewServer(ServerConfig{Cert: cert})
		if err == nil {
			t.Fatal("expected error for missing addr")
		}
	})

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		srv, err := NewServer(ServerConfig{Addr: ":4443", Cert: cert})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if srv == nil {
			t.Fatal("server is nil")
		}
	})
}

func TestHandleSRTPullCreate(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	var got SRTPullInfo
	srv.config.SRTPull = func(req SRTPullInfo) error {
		got = req
		return nil
	}
	handler := srv.APIHandler()

	body := `{"address":"10.0.0.2:6000","streamKey":"vtr","records":true}`
	req := httptest.NewRequest("POST", "/api/srt-pull", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if got.Address != "10.0.0.2:6000" || got.StreamKey != "vtr" || !got.Records {
		t.Errorf("pull request = %+v", got)
	}
}

func TestHandleSRTPullStopUnknown(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.config.SRTStop = func(string) error { return errors.New("no active pull") }
	handler := srv.APIHandler()

	req := httptest.NewRequest("DELETE", "/api/srt-pull?streamKey=vtr", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

type fakePipeline struct{}

func (fakePipeline) Stats() pipeline.Stats {
	return pipeline.Stats{Frames: 25, Records: 50, Services: map[string]int64{"VPS": 50}}
}

func (fakePipeline) Dump(w io.Writer) error {
	_, err := io.WriteString(w, "state committed\n")
	return err
}

func TestHandleStreamDebug(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.config.IngestLookup = func(key string) *IngestDebugStats {
		return &IngestDebugStats{BytesReceived: 1024, RemoteAddr: "10.0.0.9:4000"}
	}
	srv.RegisterStream("vtr")
	srv.SetPipeline("vtr", fakePipeline{})

	req := httptest.NewRequest("GET", "/api/streams/vtr/debug", nil)
	rec := httptest.NewRecorder()
	srv.APIHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var snap DebugSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Pipeline.Frames != 25 || snap.Decoder != "state committed\n" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Ingest == nil || snap.Ingest.BytesReceived != 1024 {
		t.Errorf("ingest = %+v", snap.Ingest)
	}
}

func TestRegisterStreamIdempotent(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	r1 := srv.RegisterStream("vtr")
	r2 := srv.RegisterStream("vtr")
	if r1 != r2 {
		t.Fatal("RegisterStream returned a second relay for the same key")
	}
	if srv.GetRelay("vtr") != r1 {
		t.Fatal("GetRelay returned a different relay")
	}
	srv.UnregisterStream("vtr")
	if srv.GetRelay("vtr") != nil || srv.GetPipeline("vtr") != nil {
		t.Fatal("stream still registered")
	}
}

func TestRecordsFeed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	relay := srv.RegisterStream("vtr")
	recs := []rawdec.Record{{ID: service.VPS, Line: 16, Data: bytes.Repeat([]byte{0x5A}, 13)}}
	relay.WriteFrame(7, recs)

	ts := httptest.NewServer(srv.APIHandler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/streams/vtr/records", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	f, err := recordio.NewReader(resp.Body).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Seq != 7 || len(f.Records) != 1 || f.Records[0].Line != 16 {
		t.Errorf("frame = %+v", f)
	}
}

func TestRecordsFeedUnknownStream(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/streams/missing/records", nil)
	rec := httptest.NewRecorder()
	srv.APIHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCaptionsFeed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	relay := srv.RegisterStream("vtr")

	ts := httptest.NewServer(srv.APIHandler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/streams/vtr/captions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	for relay.ViewerCount() == 0 {
		if ctx.Err() != nil {
			t.Fatal("viewer never registered")
		}
		time.Sleep(time.Millisecond)
	}
	relay.BroadcastCaption(&ccx.CaptionFrame{PTS: 3003, Text: "HELLO", Channel: 1})

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var msg captionMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.PTS != 3003 || msg.Text != "HELLO" || msg.Channel != 1 {
		t.Errorf("caption = %+v", msg)
	}
}

func TestFeedEndsWithStream(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	relay := srv.RegisterStream("vtr")

	ts := httptest.NewServer(srv.APIHandler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/streams/vtr/records", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	for relay.ViewerCount() == 0 {
		if ctx.Err() != nil {
			t.Fatal("viewer never registered")
		}
		time.Sleep(time.Millisecond)
	}
	srv.UnregisterStream("vtr")

	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("feed did not end cleanly: %v", err)
	}
}
