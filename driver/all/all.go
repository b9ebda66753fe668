// Package all imports every driver kind for its registration side
// effect, grounded on the teacher's backend/all: a single blank-import
// list so the composition root binary gets every backend by importing
// one package instead of one per kind.
package all

import (
	_ "github.com/arkstor/gatewayfs/driver/cloud189"
	_ "github.com/arkstor/gatewayfs/driver/ftp"
	_ "github.com/arkstor/gatewayfs/driver/lanzou"
	_ "github.com/arkstor/gatewayfs/driver/local"
	_ "github.com/arkstor/gatewayfs/driver/onedrive"
	_ "github.com/arkstor/gatewayfs/driver/pan115"
	_ "github.com/arkstor/gatewayfs/driver/pikpak"
	_ "github.com/arkstor/gatewayfs/driver/quark"
	_ "github.com/arkstor/gatewayfs/driver/s3"
	_ "github.com/arkstor/gatewayfs/driver/sftp"
	_ "github.com/arkstor/gatewayfs/driver/smb"
	_ "github.com/arkstor/gatewayfs/driver/webdav"
	_ "github.com/arkstor/gatewayfs/driver/yun139"
)
