package webdav

import (
	"context"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestNewFsRequiresURL(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "url" {
		t.Errorf("got field %q, want %q", ce.Field, "url")
	}
}

func TestNewFsRejectsMalformedURL(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{"url": "http://[::1"})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "url" {
		t.Errorf("got field %q, want %q", ce.Field, "url")
	}
}

func TestCapabilitiesAdvertisesCoreOps(t *testing.T) {
	f := &Fs{}
	caps := f.Capabilities()
	for _, want := range []driver.Capability{
		driver.CapList, driver.CapRead, driver.CapReadRange,
		driver.CapWriteStream, driver.CapDelete, driver.CapMkdir,
		driver.CapMove, driver.CapCopy,
	} {
		if !caps.Has(want) {
			t.Errorf("Capabilities() missing %s", want)
		}
	}
}
