package version

// Version is the current version of aactschema.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.0.0"

// Name is the application name.
const Name = "aactschema"

// Description is a short description of the application.
const Description = "AACT clinical trials schema context server"
