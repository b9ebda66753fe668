package yun139

import (
	"context"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestNewFsRequiresAuthorization(t *testing.T) {
	_, err := NewFs(context.Background(), "test", driver.Config{})
	ce, ok := err.(*driver.ConfigError)
	if !ok {
		t.Fatalf("got %T, want *driver.ConfigError", err)
	}
	if ce.Field != "authorization" {
		t.Errorf("got field %q, want %q", ce.Field, "authorization")
	}
}

func TestNewFsDefaultsRootID(t *testing.T) {
	drv, err := NewFs(context.Background(), "test", driver.Config{"authorization": "tok"})
	if err != nil {
		t.Fatalf("NewFs: %v", err)
	}
	f := drv.(*Fs)
	if f.rootID != "" {
		t.Errorf("got rootID %q, want empty default", f.rootID)
	}
}

func TestCapabilitiesAdvertisesCoreOps(t *testing.T) {
	f := &Fs{}
	caps := f.Capabilities()
	for _, want := range []driver.Capability{
		driver.CapList, driver.CapRead, driver.CapReadRange,
		driver.CapDelete, driver.CapMkdir, driver.CapRename,
		driver.CapMove, driver.CapSpaceInfo,
	} {
		if !caps.Has(want) {
			t.Errorf("Capabilities() missing %s", want)
		}
	}
}
