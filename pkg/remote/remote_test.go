package remote

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
	"github.com/morezero/webshell-bridge/pkg/commsutil"
	"github.com/morezero/webshell-bridge/pkg/loader"
)

const remoteTestPrefix = "remote:remote_test"

func startComms(t *testing.T, port int) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", remoteTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", remoteTestPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("%s - connect failed: %v", remoteTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

// respond installs a fake shell handler on subject.
func respond(t *testing.T, nc *comms.Conn, subject string, handler func(msg *comms.Msg)) {
	t.Helper()
	if _, err := nc.Subscribe(subject, handler); err != nil {
		t.Fatalf("%s - subscribe %s failed: %v", remoteTestPrefix, subject, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("%s - flush failed: %v", remoteTestPrefix, err)
	}
}

// presentWith makes the fake shell answer every presentation of provider with out.
func presentWith(t *testing.T, nc *comms.Conn, provider string, seen chan<- PresentRequest, out OutcomeMessage) {
	respond(t, nc, commsutil.BuildProviderSubject(provider, "present"), func(msg *comms.Msg) {
		var req PresentRequest
		_ = commsutil.DecodePayload(msg.Data, &req)
		if seen != nil {
			seen <- req
		}
		_ = msg.Respond(nil)
		data, _ := commsutil.EncodePayload(out)
		_ = nc.Publish(req.ReplyTo, data)
	})
}

type recordingCompletion struct {
	done   chan string
	result capability.Result
	err    error
}

func newRecordingCompletion() *recordingCompletion {
	return &recordingCompletion{done: make(chan string, 4)}
}

func (c *recordingCompletion) Succeed(r capability.Result) {
	c.result = r
	c.done <- OutcomeSuccess
}

func (c *recordingCompletion) Fail(err error) {
	c.err = err
	c.done <- OutcomeFailure
}

func (c *recordingCompletion) Dismiss() {
	c.done <- OutcomeDismissed
}

func (c *recordingCompletion) wait(t *testing.T) string {
	t.Helper()
	select {
	case outcome := <-c.done:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - no outcome reported", remoteTestPrefix)
		return ""
	}
}

func encodedTestImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	s, err := encodeImage(img)
	if err != nil {
		t.Fatalf("%s - encode failed: %v", remoteTestPrefix, err)
	}
	return s
}

func TestHost_Capabilities(t *testing.T) {
	nc := startComms(t, 14260)
	respond(t, nc, commsutil.BuildProviderSubject(ProviderHost, "describe"), func(msg *comms.Msg) {
		_ = msg.Respond([]byte(`{"camera":true}`))
	})

	h := NewHost(nc, time.Second, time.Second)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start failed: %v", remoteTestPrefix, err)
	}
	defer h.Stop()

	p := h.Providers()
	if !p.Photos.CameraAvailable() || p.Barcodes.Supported() {
		t.Errorf("%s - capabilities after describe = %+v", remoteTestPrefix, h.Capabilities())
	}

	_ = nc.Publish(commsutil.BuildProviderSubject(ProviderHost, "capabilities"), []byte(`{"camera":true,"barcodeScanner":true}`))
	deadline := time.Now().Add(2 * time.Second)
	for !p.Barcodes.Supported() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !p.Barcodes.Supported() {
		t.Errorf("%s - advert did not enable the barcode scanner", remoteTestPrefix)
	}
}

func TestHost_SilentShellReportsNothing(t *testing.T) {
	nc := startComms(t, 14261)
	h := NewHost(nc, 200*time.Millisecond, 200*time.Millisecond)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("%s - an absent shell must not fail Start: %v", remoteTestPrefix, err)
	}
	defer h.Stop()
	if h.Capabilities() != (Capabilities{}) {
		t.Errorf("%s - capabilities = %+v, want none", remoteTestPrefix, h.Capabilities())
	}
}

func TestPhoto_SuccessDecodesImage(t *testing.T) {
	nc := startComms(t, 14262)
	seen := make(chan PresentRequest, 1)
	presentWith(t, nc, ProviderCamera, seen, OutcomeMessage{Outcome: OutcomeSuccess, Image: "data:image/png;base64," + encodedTestImage(t)})

	c := newRecordingCompletion()
	h := NewHost(nc, time.Second, time.Second)
	defer h.Stop()
	h.Providers().Photos.PresentCamera(capability.CameraFront, c)

	if got := c.wait(t); got != OutcomeSuccess {
		t.Fatalf("%s - outcome = %s (%v)", remoteTestPrefix, got, c.err)
	}
	if b := c.result.Image.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("%s - image bounds = %v", remoteTestPrefix, b)
	}
	req := <-seen
	if req.Camera != "front" || req.ID == "" {
		t.Errorf("%s - present request = %+v", remoteTestPrefix, req)
	}
}

func TestBarcode_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		port     int
		out      OutcomeMessage
		want     string
		wantKind apperr.Kind
	}{
		{"decoded", 14263, OutcomeMessage{Outcome: OutcomeSuccess, Code: "hello", Symbology: "qr"}, OutcomeSuccess, ""},
		{"dismissed", 14264, OutcomeMessage{Outcome: OutcomeDismissed}, OutcomeDismissed, ""},
		{"restricted", 14265, OutcomeMessage{Outcome: OutcomeFailure, Error: &ErrorDetail{Unavailable: "cameraRestricted"}}, OutcomeFailure, apperr.KindPermissionDenied},
		{"unknown outcome", 14266, OutcomeMessage{Outcome: "exploded"}, OutcomeFailure, apperr.KindInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nc := startComms(t, tt.port)
			seen := make(chan PresentRequest, 1)
			presentWith(t, nc, ProviderBarcodes, seen, tt.out)

			c := newRecordingCompletion()
			h := NewHost(nc, time.Second, time.Second)
			defer h.Stop()
			h.Providers().Barcodes.PresentBarcodeScanner([]capability.Symbology{capability.SymbologyQR}, c)

			if got := c.wait(t); got != tt.want {
				t.Fatalf("%s - outcome = %s, want %s", remoteTestPrefix, got, tt.want)
			}
			if tt.wantKind != "" && !apperr.Is(c.err, tt.wantKind) {
				t.Errorf("%s - error = %v, want kind %s", remoteTestPrefix, c.err, tt.wantKind)
			}
			if tt.want == OutcomeSuccess && (c.result.Code != "hello" || c.result.Symbology != capability.SymbologyQR) {
				t.Errorf("%s - result = %+v", remoteTestPrefix, c.result)
			}
			if req := <-seen; len(req.Types) != 1 || req.Types[0] != "qr" {
				t.Errorf("%s - requested types = %v", remoteTestPrefix, req.Types)
			}
		})
	}
}

func TestDocuments_UndecodablePageFails(t *testing.T) {
	nc := startComms(t, 14267)
	presentWith(t, nc, ProviderDocuments, nil, OutcomeMessage{Outcome: OutcomeSuccess, Pages: []string{encodedTestImage(t), "!!not base64!!"}})

	c := newRecordingCompletion()
	h := NewHost(nc, time.Second, time.Second)
	defer h.Stop()
	h.Providers().Documents.PresentDocumentScanner(c)

	if got := c.wait(t); got != OutcomeFailure || !apperr.Is(c.err, apperr.KindInternalError) {
		t.Errorf("%s - outcome = %s (%v), want internal failure", remoteTestPrefix, got, c.err)
	}
}

func TestPresent_UnacknowledgedFails(t *testing.T) {
	tests := []struct {
		name   string
		port   int
		listen bool
	}{
		{"no shell", 14270, false},
		{"silent shell", 14271, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nc := startComms(t, tt.port)
			if tt.listen {
				respond(t, nc, commsutil.BuildProviderSubject(ProviderBarcodes, "present"), func(*comms.Msg) {})
			}

			h := NewHost(nc, 200*time.Millisecond, 200*time.Millisecond)
			defer h.Stop()
			c := newRecordingCompletion()
			start := time.Now()
			h.Providers().Barcodes.PresentBarcodeScanner(nil, c)

			if got := c.wait(t); got != OutcomeFailure || !apperr.Is(c.err, apperr.KindInternalError) {
				t.Fatalf("%s - outcome = %s (%v), want internal failure", remoteTestPrefix, got, c.err)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("%s - failure took %v", remoteTestPrefix, elapsed)
			}
		})
	}
}

func TestPresent_AcknowledgementRejects(t *testing.T) {
	nc := startComms(t, 14272)
	respond(t, nc, commsutil.BuildProviderSubject(ProviderCamera, "present"), func(msg *comms.Msg) {
		_ = msg.Respond([]byte(`{"error":{"kind":"PERMISSION_DENIED"}}`))
	})

	h := NewHost(nc, time.Second, time.Second)
	defer h.Stop()
	c := newRecordingCompletion()
	h.Providers().Photos.PresentCamera(capability.CameraBack, c)

	if got := c.wait(t); got != OutcomeFailure || !apperr.Is(c.err, apperr.KindPermissionDenied) {
		t.Errorf("%s - outcome = %s (%v), want permission denied", remoteTestPrefix, got, c.err)
	}
}

func TestPresent_LostHostDismisses(t *testing.T) {
	nc := startComms(t, 14273)
	describes := make(chan struct{}, 16)
	describeSub, err := nc.Subscribe(commsutil.BuildProviderSubject(ProviderHost, "describe"), func(msg *comms.Msg) {
		describes <- struct{}{}
		_ = msg.Respond([]byte(`{"barcodeScanner":true}`))
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", remoteTestPrefix, err)
	}
	// The shell accepts the presentation and then never reports an outcome.
	respond(t, nc, commsutil.BuildProviderSubject(ProviderBarcodes, "present"), func(msg *comms.Msg) {
		_ = msg.Respond(nil)
	})

	h := NewHost(nc, 200*time.Millisecond, 100*time.Millisecond)
	defer h.Stop()
	c := newRecordingCompletion()
	h.Providers().Barcodes.PresentBarcodeScanner(nil, c)

	select {
	case <-describes:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - open presentation never checked the host", remoteTestPrefix)
	}
	select {
	case got := <-c.done:
		t.Fatalf("%s - outcome %s while the host was still answering", remoteTestPrefix, got)
	default:
	}

	_ = describeSub.Unsubscribe()
	if got := c.wait(t); got != OutcomeDismissed {
		t.Errorf("%s - outcome = %s (%v), want dismissed", remoteTestPrefix, got, c.err)
	}
	select {
	case got := <-c.done:
		t.Errorf("%s - second outcome %s reported", remoteTestPrefix, got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPresent_StopAbandonsOpenPresentation(t *testing.T) {
	nc := startComms(t, 14274)
	respond(t, nc, commsutil.BuildProviderSubject(ProviderHost, "describe"), func(msg *comms.Msg) {
		_ = msg.Respond([]byte(`{}`))
	})
	acked := make(chan struct{}, 1)
	respond(t, nc, commsutil.BuildProviderSubject(ProviderDocuments, "present"), func(msg *comms.Msg) {
		_ = msg.Respond(nil)
		acked <- struct{}{}
	})

	h := NewHost(nc, time.Second, 50*time.Millisecond)
	c := newRecordingCompletion()
	h.Providers().Documents.PresentDocumentScanner(c)
	<-acked

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - Stop did not return with a presentation open", remoteTestPrefix)
	}
	select {
	case got := <-c.done:
		t.Errorf("%s - Stop resolved the presentation as %s", remoteTestPrefix, got)
	default:
	}
}

func TestRecognizeText(t *testing.T) {
	nc := startComms(t, 14268)
	respond(t, nc, commsutil.BuildProviderSubject(ProviderOCR, "recognize"), func(msg *comms.Msg) {
		var req ocrRequest
		_ = commsutil.DecodePayload(msg.Data, &req)
		if req.Image == "" {
			_ = msg.Respond([]byte(`{"error":"no image"}`))
			return
		}
		_ = msg.Respond([]byte(`{"text":"Invoice 42"}`))
	})

	h := NewHost(nc, time.Second, time.Second)
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	text, err := h.RecognizeText(context.Background(), img)
	if err != nil || text != "Invoice 42" {
		t.Errorf("%s - RecognizeText = (%q, %v)", remoteTestPrefix, text, err)
	}
}

type recordingDelegate struct {
	events chan string
}

func (d *recordingDelegate) NavigationFinished(url string) {
	d.events <- EventFinished + " " + url
}

func (d *recordingDelegate) NavigationFailed(url string, err error) {
	d.events <- EventFailed + " " + url + " " + err.Error()
}

func TestView_CommandsAndEvents(t *testing.T) {
	nc := startComms(t, 14269)
	commands := make(chan ViewCommand, 8)
	for _, op := range []string{"create", "load", "close"} {
		respond(t, nc, commsutil.BuildViewSubject(op), func(msg *comms.Msg) {
			var cmd ViewCommand
			_ = commsutil.DecodePayload(msg.Data, &cmd)
			commands <- cmd
		})
	}
	respond(t, nc, commsutil.BuildViewSubject("inspect"), func(msg *comms.Msg) {
		_ = msg.Respond([]byte(`{"empty":true}`))
	})

	d := &recordingDelegate{events: make(chan string, 8)}
	v := NewView(nc, d, time.Second)
	defer v.Close()
	_ = nc.Flush()

	next := func() ViewCommand {
		select {
		case cmd := <-commands:
			return cmd
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - no view command received", remoteTestPrefix)
			return ViewCommand{}
		}
	}
	if cmd := next(); cmd.View != v.ID() {
		t.Fatalf("%s - create command for view %q, want %q", remoteTestPrefix, cmd.View, v.ID())
	}

	v.Load("https://a.example/", loader.LoadOptions{BypassCache: true, Timeout: time.Minute})
	if cmd := next(); cmd.URL != "https://a.example/" || !cmd.BypassCache || cmd.TimeoutMs != 60000 {
		t.Errorf("%s - load command = %+v", remoteTestPrefix, cmd)
	}
	if v.URL() != "" {
		t.Errorf("%s - URL() = %q before the load finished", remoteTestPrefix, v.URL())
	}

	publish := func(ev ViewEvent) {
		data, _ := commsutil.EncodePayload(ev)
		_ = nc.Publish(commsutil.BuildViewSubject("events"), data)
	}
	publish(ViewEvent{View: "someone-else", Type: EventFailed, URL: "https://a.example/"})
	publish(ViewEvent{View: v.ID(), Type: EventFinished, URL: "https://a.example/home"})

	select {
	case got := <-d.events:
		if got != "finished https://a.example/home" {
			t.Errorf("%s - first delegate event = %q", remoteTestPrefix, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - no navigation event delivered", remoteTestPrefix)
	}
	if v.URL() != "https://a.example/home" {
		t.Errorf("%s - URL() = %q", remoteTestPrefix, v.URL())
	}

	inspected := make(chan bool, 1)
	v.InspectContent(func(empty bool) { inspected <- empty })
	select {
	case empty := <-inspected:
		if !empty {
			t.Errorf("%s - inspection reported content", remoteTestPrefix)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - inspection never answered", remoteTestPrefix)
	}

	v.Load("https://b.example/", loader.LoadOptions{Timeout: time.Minute})
	next()
	publish(ViewEvent{View: v.ID(), Type: EventFailed, URL: "https://b.example/", Error: "timed out"})
	select {
	case got := <-d.events:
		if got != "failed https://b.example/ timed out" {
			t.Errorf("%s - delegate event = %q", remoteTestPrefix, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - failed navigation not delivered", remoteTestPrefix)
	}
	if v.URL() != "https://a.example/home" {
		t.Errorf("%s - URL() = %q after a failed load, want the committed page", remoteTestPrefix, v.URL())
	}

	v.Close()
	if cmd := next(); cmd.View != v.ID() {
		t.Errorf("%s - close command for %q", remoteTestPrefix, cmd.View)
	}
	publish(ViewEvent{View: v.ID(), Type: EventFailed, URL: "https://a.example/"})
	_ = nc.Flush()
	select {
	case got := <-d.events:
		t.Errorf("%s - event %q delivered after Close", remoteTestPrefix, got)
	case <-time.After(100 * time.Millisecond):
	}
}
