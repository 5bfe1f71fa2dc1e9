package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func fakeJPEG(payload string) []byte {
	b := []byte{0xFF, 0xD8}
	b = append(b, payload...)
	return append(b, 0xFF, 0xD9)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr int
	}{
		{"default", DefaultConfig(), 0},
		{"stream", Config{URL: "http://cam:81/stream", Mode: ModeStream}, 0},
		{"no url", Config{Mode: ModeSnapshot}, 1},
		{"relative url", Config{URL: "/capture", Mode: ModeSnapshot}, 1},
		{"ftp url", Config{URL: "ftp://cam/capture", Mode: ModeSnapshot}, 1},
		{"bad mode", Config{URL: "http://cam/capture", Mode: "rtsp"}, 1},
		{"everything wrong", Config{Mode: "x", Timeout: -time.Second}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.cfg.Validate()
			if len(errs) != tt.wantErr {
				t.Errorf("Validate() = %v, want %d errors", errs, tt.wantErr)
			}
		})
	}
}

func TestNew(t *testing.T) {
	src, err := New(Config{URL: "http://cam/capture", Mode: ModeSnapshot})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := src.(*SnapshotSource); !ok {
		t.Errorf("New(snapshot) = %T", src)
	}

	src, err = New(Config{URL: "http://cam:81/stream", Mode: ModeStream})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := src.(*StreamSource); !ok {
		t.Errorf("New(stream) = %T", src)
	}

	if _, err := New(Config{Mode: ModeSnapshot}); err == nil {
		t.Error("New() with empty URL should fail")
	}
}

func TestSnapshotSource(t *testing.T) {
	frame := fakeJPEG("frame")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/capture":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(frame)
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	got, err := NewSnapshotSource(srv.URL+"/capture", time.Second).Capture(ctx)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("Capture() = %x, want %x", got, frame)
	}

	if _, err := NewSnapshotSource(srv.URL+"/empty", time.Second).Capture(ctx); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("empty body: err = %v, want ErrEmptyFrame", err)
	}

	if _, err := NewSnapshotSource(srv.URL+"/down", time.Second).Capture(ctx); err == nil {
		t.Error("HTTP 503 should be an error")
	}
}

func TestSnapshotSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewSnapshotSource(url, time.Second).Capture(context.Background()); err == nil {
		t.Error("closed server should be an error")
	}
}

func TestSnapshotSource_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := NewSnapshotSource(srv.URL, 0).Capture(ctx); err == nil {
		t.Error("canceled capture should be an error")
	}
}

func TestSplitJPEG(t *testing.T) {
	a, b := fakeJPEG("first"), fakeJPEG("second")

	var stream bytes.Buffer
	stream.WriteString("--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	stream.Write(a)
	stream.WriteString("\r\n--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	stream.Write(b)
	stream.WriteString("\r\n--frame--\r\n")

	sc := bufio.NewScanner(&stream)
	sc.Split(SplitJPEG)

	var got [][]byte
	for sc.Scan() {
		got = append(got, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan error = %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("got %d frames %x, want [%x %x]", len(got), got, a, b)
	}
}

func TestSplitJPEG_TruncatedTail(t *testing.T) {
	data := append(fakeJPEG("whole"), 0xFF, 0xD8, 'x', 'y')

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Split(SplitJPEG)

	n := 0
	for sc.Scan() {
		n++
	}
	if n != 1 {
		t.Errorf("frames = %d, want 1", n)
	}
}

func mjpegHandler(frames [][]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for _, f := range frames {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			part.Write(f)
		}
		mw.Close()
	}
}

func TestStreamSource(t *testing.T) {
	frames := [][]byte{fakeJPEG("one"), fakeJPEG("two")}

	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connects.Add(1)
		mjpegHandler(frames)(w, r)
	}))
	defer srv.Close()

	src := NewStreamSource(srv.URL)
	defer src.Close()
	ctx := context.Background()

	for i, want := range frames {
		got, err := src.Capture(ctx)
		if err != nil {
			t.Fatalf("Capture() #%d error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Capture() #%d = %q, want %q", i, got, want)
		}
	}

	// The server closed the stream: the next capture fails, the one after
	// reconnects.
	if _, err := src.Capture(ctx); err == nil {
		t.Fatal("Capture() after end of stream should fail")
	}
	got, err := src.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture() after reconnect error = %v", err)
	}
	if !bytes.Equal(got, frames[0]) {
		t.Errorf("Capture() after reconnect = %q", got)
	}
	if n := connects.Load(); n != 2 {
		t.Errorf("connects = %d, want 2", n)
	}
}

func TestStreamSource_Closed(t *testing.T) {
	src := NewStreamSource("http://127.0.0.1:1/stream")
	src.Close()
	if _, err := src.Capture(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"002.jpg", "001.jpg", "003.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), fakeJPEG(fmt.Sprint(i)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755)

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatalf("NewDirSource() error = %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", src.Len())
	}

	ctx := context.Background()
	want := []string{"1", "0", "2"} // name order: 001, 002, 003
	for _, w := range want {
		got, err := src.Capture(ctx)
		if err != nil {
			t.Fatalf("Capture() error = %v", err)
		}
		if !bytes.Equal(got, fakeJPEG(w)) {
			t.Errorf("Capture() = %q, want payload %q", got, w)
		}
	}

	if _, err := src.Capture(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("after last frame err = %v, want io.EOF", err)
	}
}

func TestDirSource_Missing(t *testing.T) {
	if _, err := NewDirSource(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("missing directory should be an error")
	}
}
