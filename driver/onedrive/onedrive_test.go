package onedrive

import (
	"context"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestNewFsRequiresClientID(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "client_id" {
		t.Errorf("got field %q, want %q", ce.Field, "client_id")
	}
}

func TestNewFsRequiresRefreshToken(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{"client_id": "abc"})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "refresh_token" {
		t.Errorf("got field %q, want %q", ce.Field, "refresh_token")
	}
}

func TestCapabilitiesAdvertisesCoreOps(t *testing.T) {
	f := &Fs{}
	caps := f.Capabilities()
	for _, want := range []driver.Capability{
		driver.CapList, driver.CapRead, driver.CapReadRange,
		driver.CapWriteStream, driver.CapWriteWhole, driver.CapDelete,
		driver.CapMkdir, driver.CapRename, driver.CapMove, driver.CapCopy,
		driver.CapDirectLink,
	} {
		if !caps.Has(want) {
			t.Errorf("Capabilities() missing %s", want)
		}
	}
}
