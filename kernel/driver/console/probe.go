package console

import (
	"kestrel/kernel/boot"
)

var getFramebufferInfoFn = boot.Framebuffer
