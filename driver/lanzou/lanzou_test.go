package lanzou

import (
	"context"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestNewFsRequiresCookie(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "cookie" {
		t.Errorf("got field %q, want %q", ce.Field, "cookie")
	}
}

func TestCapabilitiesAdvertisesCoreOps(t *testing.T) {
	f := &Fs{}
	caps := f.Capabilities()
	for _, want := range []driver.Capability{
		driver.CapList, driver.CapRead,
		driver.CapDelete, driver.CapMkdir, driver.CapRename, driver.CapMove,
	} {
		if !caps.Has(want) {
			t.Errorf("Capabilities() missing %s", want)
		}
	}
	if caps.Has(driver.CapWriteWhole) {
		t.Errorf("Capabilities() has %s, but Put and OpenWriter are unsupported", driver.CapWriteWhole)
	}
}
