package weft

// Version is the release of the weft runtime. Release builds overwrite it
// with -ldflags "-X github.com/aretw0/weft.Version=...".
var Version = "dev"
