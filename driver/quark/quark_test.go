package quark

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

func TestNewFsDefaultsRootFolderID(t *testing.T) {
	drv, err := NewFs(context.Background(), "test", driver.Config{"cookie": "c=1"})
	if err != nil {
		t.Fatalf("NewFs: %v", err)
	}
	f := drv.(*Fs)
	if f.rootID != "0" {
		t.Errorf("got rootID %q, want %q", f.rootID, "0")
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
