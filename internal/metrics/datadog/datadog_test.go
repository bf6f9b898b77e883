package datadog

import (
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"gdbexport/internal/metrics"
)

type sent struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	sent   []sent
	closed bool
}

func (f *fakeClient) Count(name string, value int64, tags []string, _ float64) error {
	f.sent = append(f.sent, sent{"count", name, float64(value), tags})
	return nil
}

func (f *fakeClient) Distribution(name string, value float64, tags []string, _ float64) error {
	f.sent = append(f.sent, sent{"distribution", name, value, tags})
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestTags(t *testing.T) {
	t.Parallel()

	if got := tags(nil); got != nil {
		t.Fatalf("tags(nil) = %v, want nil", got)
	}
	got := tags(metrics.Labels{"resolution": "res5", "job": "zonal_stats", "kind": "exported", "empty": ""})
	want := []string{"job:zonal_stats", "kind:exported", "resolution:res5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
}

func TestBackend_MapsMeasurements(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	b := &Backend{client: fc}
	b.Add(metrics.RecordsTotal, 1201, metrics.Labels{"kind": "exported", "resolution": "res5"})
	b.Observe(metrics.StepSeconds, 0.25, metrics.Labels{"step": "read"})
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}

	want := []sent{
		{"count", metrics.RecordsTotal, 1201, []string{"kind:exported", "resolution:res5"}},
		{"distribution", metrics.StepSeconds, 0.25, []string{"step:read"}},
	}
	if !reflect.DeepEqual(fc.sent, want) || !fc.closed {
		t.Fatalf("sent = %+v closed=%v", fc.sent, fc.closed)
	}
}

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{Addr: " "}); err == nil {
		t.Fatal("blank address accepted")
	}
}

func TestNewBackend_NamespaceAndTagsOnTheWire(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen not available: %v", err)
	}
	defer conn.Close()

	b, err := NewBackend(Config{Addr: conn.LocalAddr().String(), Namespace: "gdbexport.", Tags: []string{"env:test"}})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.Add(metrics.FilesTotal, 2, metrics.Labels{"job": "landcover", "resolution": "res3"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no datagram received: %v", err)
	}
	got := string(buf[:n])
	for _, want := range []string{"gdbexport.export_files_written_total:2|c", "env:test", "resolution:res3"} {
		if !strings.Contains(got, want) {
			t.Fatalf("datagram %q lacks %q", got, want)
		}
	}
}
