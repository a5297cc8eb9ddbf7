package version

// Version is the current release of career-weaver
const Version = "0.3.0"
