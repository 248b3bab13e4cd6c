package labrun

// Version is overridden at build time with -ldflags "-X github.com/aretw0/labrun.Version=...".
var Version = "0.1.0-dev"
