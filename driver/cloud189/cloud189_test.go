package cloud189

import (
	"context"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestNewFsRequiresUsername(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "username" {
		t.Errorf("got field %q, want %q", ce.Field, "username")
	}
}

func TestNewFsRequiresPassword(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{"username": "u"})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "password" {
		t.Errorf("got field %q, want %q", ce.Field, "password")
	}
}

func TestCapabilitiesAdvertisesCoreOps(t *testing.T) {
	f := &Fs{}
	caps := f.Capabilities()
	for _, want := range []driver.Capability{
		driver.CapList, driver.CapRead, driver.CapReadRange,
		driver.CapDelete, driver.CapMkdir,
		driver.CapRename, driver.CapMove, driver.CapCopy, driver.CapSpaceInfo,
	} {
		if !caps.Has(want) {
			t.Errorf("Capabilities() missing %s", want)
		}
	}
	if caps.Has(driver.CapWriteStream) {
		t.Errorf("Capabilities() has %s, but Put is unsupported", driver.CapWriteStream)
	}
}
