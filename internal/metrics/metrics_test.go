package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to grab port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServerServesMetrics(t *testing.T) {
	RecordFetch("serper", nil)
	RecordFetch("serper", io.EOF)
	OverviewTriggersTotal.Inc()

	port := freePort(t)
	srv := Start(port)
	defer srv.Stop(context.Background())

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics endpoint never came up: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	for _, want := range []string{
		"aioscope_fetches_total",
		"aioscope_overview_triggers_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServerStop(t *testing.T) {
	srv := Start(freePort(t))
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
