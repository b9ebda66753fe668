package sftp

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

func TestNewFsRequiresUser(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{"host": "example.com"})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "user" {
		t.Errorf("got field %q, want %q", ce.Field, "user")
	}
}

func TestCapabilitiesAdvertisesCoreOps(t *testing.T) {
	f := &Fs{}
	caps := f.Capabilities()
	for _, want := range []driver.Capability{
		driver.CapList, driver.CapRead, driver.CapReadRange,
		driver.CapWriteStream, driver.CapDelete, driver.CapMkdir,
		driver.CapRename, driver.CapMove,
	} {
		if !caps.Has(want) {
			t.Errorf("Capabilities() missing %s", want)
		}
	}
}
