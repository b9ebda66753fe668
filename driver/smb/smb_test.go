package smb

import (
	"context"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestNewFsRequiresHost(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "host" {
		t.Errorf("got field %q, want %q", ce.Field, "host")
	}
}

func TestNewFsRequiresShare(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{"host": "example.com"})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "share" {
		t.Errorf("got field %q, want %q", ce.Field, "share")
	}
}

func TestCapabilitiesAdvertisesCoreOps(t *testing.T) {
	f := &Fs{}
	caps := f.Capabilities()
	for _, want := range []driver.Capability{
		driver.CapList, driver.CapRead, driver.CapReadRange,
		driver.CapWriteWhole, driver.CapDelete, driver.CapMkdir,
		driver.CapRename, driver.CapMove, driver.CapSpaceInfo,
	} {
		if !caps.Has(want) {
			t.Errorf("Capabilities() missing %s", want)
		}
	}
}
